// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sqlgate/cli/internal/dsn"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the embedded backend. It keeps a single database/sql connection
// so writes are serialized and an in-memory database survives between calls.
type SQLite struct {
	url  string
	opts Options

	mu    sync.RWMutex
	state state
	db    *sql.DB
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewSQLite returns an uninitialized SQLite adapter for a sqlite:// URL.
func NewSQLite(url string, opts Options) *SQLite {
	return &SQLite{url: url, opts: opts.withDefaults()}
}

func (a *SQLite) Kind() dsn.DBType { return dsn.DBTypeSQLite }

// Init opens the database file, creating it and its directory if needed.
func (a *SQLite) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case stateInitialized:
		return nil
	case stateClosed:
		return notInitialized(a.Kind())
	}

	info, err := dsn.ParseInfo(a.url)
	if err != nil {
		return err
	}
	connStr, err := dsn.NewSQLiteResolver().Normalize(info)
	if err != nil {
		return err
	}
	if info.Path != dsn.MemoryPath {
		if dir := filepath.Dir(info.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return apperrors.Wrap(apperrors.ConnectionFailed,
					fmt.Sprintf("cannot create directory for %s", info.Path), err)
			}
		}
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return apperrors.Wrap(apperrors.ConnectionFailed, "cannot open sqlite database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return apperrors.Wrap(apperrors.ConnectionFailed,
			fmt.Sprintf("cannot open sqlite database %s", info.Path), err)
	}

	a.db = db
	a.state = stateInitialized
	a.opts.Logger.Debug("sqlite database opened", a.opts.Logger.Args("path", info.Path))
	return nil
}

func (a *SQLite) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateInitialized {
		a.state = stateClosed
		return nil
	}
	a.state = stateClosed
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *SQLite) Initialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state == stateInitialized
}

func (a *SQLite) handle() (*sql.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateInitialized {
		return nil, notInitialized(a.Kind())
	}
	return a.db, nil
}

func (a *SQLite) Transform(query string, params Params) (string, []any, error) {
	norm, err := NormalizeParams(params)
	if err != nil {
		return "", nil, err
	}
	return TransformSQLite(query, norm)
}

func (a *SQLite) Prepare(query string, params Params) (Batch, error) {
	return prepare(query, params, a.transform)
}

// transform applies TransformSQLite, degrading to NULL bindings when
// BindFallback is set and a referenced parameter has no value.
func (a *SQLite) transform(query string, params Params) (string, []any, error) {
	native, args, err := TransformSQLite(query, params)
	if err != nil && a.opts.BindFallback && apperrors.KindOf(err) == apperrors.InvalidParameters {
		a.opts.Logger.Warn("parameter binding failed, executing without parameters",
			a.opts.Logger.Args("error", logging.Err(err)))
		return query, nullArgs(query), nil
	}
	return native, args, err
}

func (a *SQLite) ExecuteBatch(ctx context.Context, batch Batch) ([]Row, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	return a.run(ctx, db, batch)
}

func (a *SQLite) ExecuteQuery(ctx context.Context, query string, params Params) ([]Row, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	batch, err := a.Prepare(query, params)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, db, batch)
}

func (a *SQLite) ExecuteSingleStatement(ctx context.Context, query string, params Params) ([]Row, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	batch, err := prepareSingle(query, params, a.transform)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, db, batch)
}

func (a *SQLite) Transaction(ctx context.Context, work func(ctx context.Context, tx Querier) (any, error)) (result any, err error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapExec("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	result, err = work(ctx, &sqliteTx{adapter: a, tx: tx})
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapExec("commit transaction", err)
	}
	return result, nil
}

func (a *SQLite) run(ctx context.Context, q sqlQuerier, batch Batch) ([]Row, error) {
	return runBatch(ctx, batch, a.opts.Policy, a.opts.Logger, func(ctx context.Context, stmt Statement) ([]Row, error) {
		return a.exec(ctx, q, stmt)
	})
}

// exec runs one statement and drains its rows so DDL and DML take effect.
func (a *SQLite) exec(ctx context.Context, q sqlQuerier, stmt Statement) ([]Row, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil && a.opts.BindFallback && isBindError(err) {
		a.opts.Logger.Warn("parameter binding failed, executing without parameters",
			a.opts.Logger.Args("error", logging.Err(err)))
		rows, err = q.QueryContext(ctx, stmt.Canonical, nullArgs(stmt.Canonical)...)
	}
	if err != nil {
		return nil, err
	}
	return collectSQLRows(rows)
}

func isBindError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"not enough args", "unsupported type", "converting argument", "sql: expected"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func collectSQLRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// sqliteTx is the transaction-scoped Querier.
type sqliteTx struct {
	adapter *SQLite
	tx      *sql.Tx
}

func (t *sqliteTx) ExecuteQuery(ctx context.Context, query string, params Params) ([]Row, error) {
	batch, err := t.adapter.Prepare(query, params)
	if err != nil {
		return nil, err
	}
	return t.adapter.run(ctx, t.tx, batch)
}

func (t *sqliteTx) ExecuteSingleStatement(ctx context.Context, query string, params Params) ([]Row, error) {
	batch, err := prepareSingle(query, params, t.adapter.transform)
	if err != nil {
		return nil, err
	}
	return t.adapter.run(ctx, t.tx, batch)
}
