// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package pipeline turns a query name and parameters into result rows:
// resolve the SQL file, transform it for the backend, execute it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sqlgate/cli/internal/adapter"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/logging"
	"sqlgate/cli/internal/migrate"
	"sqlgate/cli/internal/source"

	"github.com/pterm/pterm"
)

// Resolver maps a query name to SQL text.
type Resolver interface {
	Resolve(name string) (string, error)
}

// Executor runs named queries against one adapter. It is safe for
// concurrent use when the adapter is.
type Executor struct {
	db      adapter.Adapter
	queries Resolver
	logger  *pterm.Logger
}

// New returns an Executor.
func New(db adapter.Adapter, queries Resolver, logger *pterm.Logger) *Executor {
	return &Executor{db: db, queries: queries, logger: logging.OrDiscard(logger)}
}

// Adapter returns the underlying adapter.
func (e *Executor) Adapter() adapter.Adapter { return e.db }

// ExecuteNamedQuery resolves name, binds params and returns the rows of every
// statement in order. Unknown names fail with query_not_found before the
// database is touched. Failures are not retried.
func (e *Executor) ExecuteNamedQuery(ctx context.Context, name string, params adapter.Params) ([]adapter.Row, error) {
	text, err := e.queries.Resolve(name)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return nil, apperrors.Newf(apperrors.QueryNotFound, "query %q not found", name)
		}
		return nil, apperrors.Wrap(apperrors.ExecutionFailed, fmt.Sprintf("cannot read query %q", name), err)
	}

	batch, err := e.db.Prepare(text, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := e.db.ExecuteBatch(ctx, batch)
	if err != nil {
		e.logger.Warn("query failed", e.logger.Args("name", name, "error", logging.Err(err)))
		if apperrors.KindOf(err) == "" {
			err = apperrors.Wrap(apperrors.ExecutionFailed, fmt.Sprintf("query %q failed", name), err)
		}
		return nil, err
	}
	e.logger.Debug("query executed", e.logger.Args(
		"name", name,
		"statements", len(batch.Statements),
		"rows", len(rows),
		"elapsed", time.Since(start).Round(time.Microsecond).String(),
	))
	return rows, nil
}

// SetupOptions configures Setup.
type SetupOptions struct {
	URL        string
	Adapter    adapter.Options
	Migrations migrate.Source
	// MigrationLock serializes migration runs across processes (PostgreSQL).
	MigrationLock bool
	Logger        *pterm.Logger
	// OnMigration is called before each pending migration is applied.
	OnMigration func(name string)
}

// Setup opens the adapter for opts.URL, initializes it and applies pending
// migrations. On any failure the adapter is closed and the error returned.
func Setup(ctx context.Context, opts SetupOptions) (adapter.Adapter, []string, error) {
	logger := logging.OrDiscard(opts.Logger)
	if opts.Adapter.Logger == nil {
		opts.Adapter.Logger = logger
	}

	db, err := adapter.Open(opts.URL, opts.Adapter)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Init(ctx); err != nil {
		return nil, nil, err
	}

	var applied []string
	if opts.Migrations != nil {
		runner := migrate.New(db, opts.Migrations, migrate.Options{
			Lock:    opts.MigrationLock,
			Logger:  logger,
			OnApply: opts.OnMigration,
		})
		applied, err = runner.Run(ctx)
		if err != nil {
			_ = db.Close()
			return nil, applied, err
		}
	}
	logger.Info("database ready", logger.Args("backend", string(db.Kind()), "migrations_applied", len(applied)))
	return db, applied, nil
}
