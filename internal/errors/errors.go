// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package errors defines typed errors with categories for user-friendly reporting.
// Every failure the query core can produce carries a machine-readable Kind so that
// outer layers (HTTP, JSON-RPC, CLI) can map it to a status without string matching,
// while the wrapped backend error stays reachable through Unwrap.
//
// Sentinel values such as ErrQueryNotFound only carry a kind; errors.Is matches any
// *E of the same kind against them.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// QueryNotFound indicates no SQL source exists for a requested query name.
	QueryNotFound Kind = "query_not_found"
	// UnsupportedProtocol indicates a connection URL scheme outside the supported set.
	UnsupportedProtocol Kind = "unsupported_protocol"
	// ConnectionAuth indicates the database rejected the supplied credentials.
	ConnectionAuth Kind = "connection_auth"
	// ConnectionMissingDatabase indicates the target database does not exist.
	ConnectionMissingDatabase Kind = "connection_missing_database"
	// ConnectionFailed indicates a generic connectivity failure.
	ConnectionFailed Kind = "connection_failed"
	// ExecutionFailed indicates a statement failed at the backend.
	ExecutionFailed Kind = "execution_failed"
	// NotInitialized indicates use of an adapter that was never initialized or was closed.
	NotInitialized Kind = "not_initialized"
	// MigrationFailed indicates a migration file could not be applied.
	MigrationFailed Kind = "migration_failed"
	// InvalidParameters indicates a parameter set that cannot be bound to a statement.
	InvalidParameters Kind = "invalid_parameters"
)

// Sentinels for errors.Is comparisons.
var (
	ErrQueryNotFound             = New(QueryNotFound, "query not found")
	ErrUnsupportedProtocol       = New(UnsupportedProtocol, "unsupported protocol")
	ErrConnectionAuth            = New(ConnectionAuth, "authentication failed")
	ErrConnectionMissingDatabase = New(ConnectionMissingDatabase, "database does not exist")
	ErrConnectionFailed          = New(ConnectionFailed, "connection failed")
	ErrExecutionFailed           = New(ExecutionFailed, "execution failed")
	ErrNotInitialized            = New(NotInitialized, "adapter not initialized")
	ErrMigrationFailed           = New(MigrationFailed, "migration failed")
	ErrInvalidParameters         = New(InvalidParameters, "invalid parameters")
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *E) Unwrap() error { return e.Err }

// Is reports whether target is an *E of the same kind.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *E in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConnection reports whether err is any of the connection error kinds.
func IsConnection(err error) bool {
	switch KindOf(err) {
	case ConnectionAuth, ConnectionMissingDatabase, ConnectionFailed:
		return true
	}
	return false
}
