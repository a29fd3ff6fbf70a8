// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package migrate applies the SQL files whose names start with '_' in
// lexicographic order, recording each applied file in schema_migrations.
package migrate

import (
	"context"
	"fmt"
	"time"

	"sqlgate/cli/internal/adapter"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/logging"
	"sqlgate/cli/internal/source"

	"github.com/pterm/pterm"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`
	selectApplied = `SELECT name, applied_at FROM schema_migrations ORDER BY name`
	insertApplied = `INSERT INTO schema_migrations (name) VALUES (:name)`
)

// Source lists and reads migration files.
type Source interface {
	Migrations() ([]source.File, error)
	ReadMigration(f source.File) (string, error)
}

// Options configures a Runner.
type Options struct {
	// Lock serializes concurrent runs when the adapter supports it.
	Lock   bool
	Logger *pterm.Logger
	// OnApply, when set, is called before each pending migration runs.
	OnApply func(name string)
}

// Runner applies pending migrations.
type Runner struct {
	db     adapter.Adapter
	src    Source
	opts   Options
	logger *pterm.Logger
}

// Status describes one migration file.
type Status struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// New returns a Runner over db and src.
func New(db adapter.Adapter, src Source, opts Options) *Runner {
	return &Runner{db: db, src: src, opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// Run applies every pending migration and returns the names it applied.
// Each file runs in its own transaction together with its tracking row, so
// a failing file leaves no partial effects and later files are not run.
// Under PolicyContinue a failing statement inside a file is skipped instead.
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	if r.opts.Lock {
		if locker, ok := r.db.(adapter.Locker); ok {
			unlock, err := locker.Lock(ctx)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.MigrationFailed, "cannot acquire migration lock", err)
			}
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					r.logger.Warn("releasing migration lock failed", r.logger.Args("error", logging.Err(err)))
				}
			}()
		}
	}

	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	files, err := r.src.Migrations()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.MigrationFailed, "cannot list migrations", err)
	}

	var done []string
	for _, f := range files {
		if _, ok := applied[f.Name]; ok {
			continue
		}
		if r.opts.OnApply != nil {
			r.opts.OnApply(f.Name)
		}
		if err := r.apply(ctx, f); err != nil {
			return done, err
		}
		r.logger.Info("migration applied", r.logger.Args("name", f.Name))
		done = append(done, f.Name)
	}
	if len(done) == 0 {
		r.logger.Debug("schema up to date", r.logger.Args("migrations", len(files)))
	}
	return done, nil
}

func (r *Runner) apply(ctx context.Context, f source.File) error {
	body, err := r.src.ReadMigration(f)
	if err != nil {
		return apperrors.Wrap(apperrors.MigrationFailed, fmt.Sprintf("cannot read migration %s", f.Name), err)
	}
	_, err = r.db.Transaction(ctx, func(ctx context.Context, tx adapter.Querier) (any, error) {
		// The adapter's statement policy decides whether a failing
		// statement aborts the file or is skipped.
		if _, err := tx.ExecuteQuery(ctx, body, nil); err != nil {
			return nil, err
		}
		_, err := tx.ExecuteSingleStatement(ctx, insertApplied, adapter.Params{"name": f.Name})
		return nil, err
	})
	if err != nil {
		r.logger.Error("migration failed", r.logger.Args("name", f.Name, "error", logging.Err(err)))
		return apperrors.Wrap(apperrors.MigrationFailed, fmt.Sprintf("migration %s failed", f.Name), err)
	}
	return nil
}

// applied ensures the tracking table exists and returns applied names with
// their timestamps.
func (r *Runner) applied(ctx context.Context) (map[string]time.Time, error) {
	if _, err := r.db.ExecuteSingleStatement(ctx, createTable, nil); err != nil {
		return nil, apperrors.Wrap(apperrors.MigrationFailed, "cannot create schema_migrations", err)
	}
	rows, err := r.db.ExecuteSingleStatement(ctx, selectApplied, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.MigrationFailed, "cannot read schema_migrations", err)
	}
	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		out[name] = asTime(row["applied_at"])
	}
	return out, nil
}

// Status lists every migration file with its applied state.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	files, err := r.src.Migrations()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.MigrationFailed, "cannot list migrations", err)
	}
	out := make([]Status, 0, len(files))
	for _, f := range files {
		at, ok := applied[f.Name]
		out = append(out, Status{Name: f.Name, Applied: ok, AppliedAt: at})
	}
	return out, nil
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
