// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package adapter owns the live database connection and the backend-specific
// translation of canonical SQL and parameters into native execution.
//
// Two backends implement Adapter: SQLite (embedded, database/sql over
// mattn/go-sqlite3) and PostgreSQL (networked, pgx connection pool). Open
// selects one from the connection URL scheme.
//
// Every adapter moves through Uninitialized -> Initialized -> Closed. Any
// execution outside the Initialized state fails with a not_initialized error.
package adapter

import (
	"context"
	"fmt"
	"time"

	"sqlgate/cli/internal/dsn"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/logging"
	"sqlgate/cli/internal/sqltext"

	"github.com/pterm/pterm"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Params maps parameter names (without sigil) to values.
type Params map[string]any

// StatementPolicy decides what happens when one statement of a batch fails.
type StatementPolicy string

const (
	// PolicyAbort stops the batch and returns the error.
	PolicyAbort StatementPolicy = "abort"
	// PolicyContinue logs the error, skips the statement and runs the rest.
	PolicyContinue StatementPolicy = "continue"
)

// ParsePolicy validates a policy name; empty selects PolicyAbort.
func ParsePolicy(s string) (StatementPolicy, error) {
	switch StatementPolicy(s) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyContinue:
		return PolicyContinue, nil
	}
	return "", fmt.Errorf("unknown statement policy %q (want abort or continue)", s)
}

// Statement is one backend-ready statement.
type Statement struct {
	// Canonical is the statement text before transformation.
	Canonical string
	SQL       string
	Args      []any
}

// Batch is the transformed form of a SQL source: one or more statements.
type Batch struct {
	Statements []Statement
	params     Params
}

// Querier executes canonical SQL. The transaction-scoped handle passed to
// Transaction work functions is a Querier, so transactions cannot nest.
type Querier interface {
	// ExecuteQuery runs sql, splitting it into statements on ';', and returns
	// the rows of every statement concatenated in order.
	ExecuteQuery(ctx context.Context, sql string, params Params) ([]Row, error)
	// ExecuteSingleStatement runs sql as exactly one statement.
	ExecuteSingleStatement(ctx context.Context, sql string, params Params) ([]Row, error)
}

// Adapter is one live connection or pool to a single database.
type Adapter interface {
	Querier

	// Kind reports the backend.
	Kind() dsn.DBType
	// Init establishes the connection. It is not retried.
	Init(ctx context.Context) error
	// Close releases the connection; later calls fail with not_initialized.
	Close() error
	// Initialized reports whether the adapter is usable.
	Initialized() bool

	// Transform rewrites one canonical statement into native SQL and bind
	// arguments. It is pure and deterministic.
	Transform(sql string, params Params) (string, []any, error)
	// Prepare splits and transforms sql without touching the database.
	Prepare(sql string, params Params) (Batch, error)
	// ExecuteBatch runs a prepared batch.
	ExecuteBatch(ctx context.Context, batch Batch) ([]Row, error)

	// Transaction runs work inside a native transaction. It commits when work
	// returns a nil error and rolls back otherwise (including on panic). The
	// returned value is whatever work returns.
	Transaction(ctx context.Context, work func(ctx context.Context, tx Querier) (any, error)) (any, error)
}

// Locker is implemented by adapters that can serialize migration runs across
// processes.
type Locker interface {
	// Lock blocks until the migration lock is held. The returned function
	// releases it.
	Lock(ctx context.Context) (unlock func(context.Context) error, err error)
}

// Options configures an adapter.
type Options struct {
	// MaxConns bounds the PostgreSQL pool.
	MaxConns int32
	// IdleTimeout closes pooled connections idle for longer.
	IdleTimeout time.Duration
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// Policy applies to multi-statement batches.
	Policy StatementPolicy
	// BindFallback (SQLite only) re-executes a statement with every parameter
	// bound to NULL when binding fails, instead of returning the error.
	BindFallback bool
	Logger       *pterm.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.Policy == "" {
		o.Policy = PolicyAbort
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// prepare splits sql and transforms every statement with transform.
func prepare(sql string, params Params, transform func(string, Params) (string, []any, error)) (Batch, error) {
	norm, err := NormalizeParams(params)
	if err != nil {
		return Batch{}, err
	}
	stmts := sqltext.Split(sql)
	batch := Batch{Statements: make([]Statement, 0, len(stmts)), params: norm}
	for _, stmt := range stmts {
		native, args, err := transform(stmt, norm)
		if err != nil {
			return Batch{}, err
		}
		batch.Statements = append(batch.Statements, Statement{Canonical: stmt, SQL: native, Args: args})
	}
	return batch, nil
}

// prepareSingle transforms sql as one statement.
func prepareSingle(sql string, params Params, transform func(string, Params) (string, []any, error)) (Batch, error) {
	norm, err := NormalizeParams(params)
	if err != nil {
		return Batch{}, err
	}
	native, args, err := transform(sql, norm)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Statements: []Statement{{Canonical: sql, SQL: native, Args: args}}, params: norm}, nil
}

// runBatch executes statements in order and flattens their rows. Under
// PolicyContinue a failing statement of a multi-statement batch is logged and
// skipped; a single statement always reports its error.
func runBatch(ctx context.Context, batch Batch, policy StatementPolicy, logger *pterm.Logger,
	exec func(context.Context, Statement) ([]Row, error)) ([]Row, error) {
	rows := []Row{}
	multi := len(batch.Statements) > 1
	for i, stmt := range batch.Statements {
		out, err := exec(ctx, stmt)
		if err != nil {
			if multi && policy == PolicyContinue {
				logger.Warn("statement failed, continuing",
					logger.Args("index", i+1, "of", len(batch.Statements), "error", logging.Err(err)))
				continue
			}
			if multi {
				return nil, wrapExec(fmt.Sprintf("statement %d of %d failed", i+1, len(batch.Statements)), err)
			}
			return nil, wrapExec("statement failed", err)
		}
		rows = append(rows, out...)
	}
	return rows, nil
}

// wrapExec tags a backend error as execution_failed unless it already carries a kind.
func wrapExec(msg string, err error) error {
	if apperrors.KindOf(err) != "" {
		return err
	}
	return apperrors.Wrap(apperrors.ExecutionFailed, msg, err)
}

func notInitialized(kind dsn.DBType) error {
	return apperrors.Newf(apperrors.NotInitialized, "%s adapter is not initialized or already closed", kind)
}

// state is the adapter lifecycle.
type state int

const (
	stateUninitialized state = iota
	stateInitialized
	stateClosed
)
