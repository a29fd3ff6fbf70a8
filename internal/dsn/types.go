// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package dsn parses database connection URLs of the form scheme://rest.
// The scheme selects the backend from a closed set; anything else is rejected
// with an unsupported_protocol error before a connection is attempted.
package dsn

import "fmt"

// DBType represents the backend selected by a connection URL scheme.
type DBType string

const (
	DBTypeSQLite     DBType = "sqlite"
	DBTypePostgreSQL DBType = "postgresql"
	DBTypeUnknown    DBType = "unknown"
)

// IsEmbedded reports whether the backend runs in-process.
func (t DBType) IsEmbedded() bool { return t == DBTypeSQLite }

// DSNInfo contains parsed information from a connection URL.
type DSNInfo struct {
	Type     DBType
	Scheme   string
	Host     string
	Port     string
	User     string
	Password string
	Database string
	// Path is the database file for embedded backends (":memory:" allowed).
	Path     string
	Params   map[string]string
	Original string
}

// String returns the connection URL as supplied.
func (d *DSNInfo) String() string {
	return d.Original
}

// Resolver is an interface for backend-specific connection URL resolution.
type Resolver interface {
	// Parse parses a connection URL and returns its components.
	Parse(dsn string) (*DSNInfo, error)

	// Normalize converts DSN info to the connection string handed to the driver.
	Normalize(info *DSNInfo) (string, error)

	// Validate checks if the connection URL is valid for the backend.
	Validate(dsn string) error
}

// ParseError represents a malformed connection URL for a supported scheme.
type ParseError struct {
	DSN    string
	Reason string
	Hint   string
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid DSN format: %s\nHint: %s", e.Reason, e.Hint)
	}
	return fmt.Sprintf("invalid DSN format: %s", e.Reason)
}

// NewParseError creates a new ParseError
func NewParseError(dsn, reason, hint string) *ParseError {
	return &ParseError{
		DSN:    dsn,
		Reason: reason,
		Hint:   hint,
	}
}
