// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package adapter

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"sqlgate/cli/internal/dsn"
	apperrors "sqlgate/cli/internal/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockKey is the pg_advisory_lock key shared by every sqlgate process.
const migrationLockKey int64 = 0x73716c67617465 // "sqlgate"

// MinLockConns is the smallest pool that can hold the migration lock and
// still run migrations.
const MinLockConns = 2

// Postgres is the networked backend backed by a pgx connection pool.
type Postgres struct {
	url  string
	opts Options

	mu    sync.RWMutex
	state state
	pool  *pgxpool.Pool
	info  *dsn.DSNInfo
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewPostgres returns an uninitialized adapter for a postgres:// URL.
func NewPostgres(url string, opts Options) *Postgres {
	return &Postgres{url: url, opts: opts.withDefaults()}
}

func (a *Postgres) Kind() dsn.DBType { return dsn.DBTypePostgreSQL }

// Init creates the pool and probes it with SELECT 1. Connection failures are
// classified by SQLSTATE and reported without credentials.
func (a *Postgres) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case stateInitialized:
		return nil
	case stateClosed:
		return notInitialized(a.Kind())
	}

	resolver := dsn.NewPostgreSQLResolver()
	info, err := resolver.Parse(a.url)
	if err != nil {
		return err
	}
	connStr, err := resolver.Normalize(info)
	if err != nil {
		return err
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return apperrors.New(apperrors.ConnectionFailed, "invalid postgres connection settings")
	}
	cfg.MaxConns = a.opts.MaxConns
	cfg.MaxConnIdleTime = a.opts.IdleTimeout
	cfg.ConnConfig.ConnectTimeout = a.opts.ConnectTimeout
	// Parameters arrive untyped from JSON and the CLI. The simple protocol
	// sends them as literals so the server infers their types in context
	// (SELECT :x, uuid = :id) instead of rejecting an int64 bound to text.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return classifyConnectError(info, err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
	defer cancel()
	var one int
	if err := pool.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		pool.Close()
		return classifyConnectError(info, err)
	}

	a.pool = pool
	a.info = info
	a.state = stateInitialized
	a.opts.Logger.Debug("postgres pool ready",
		a.opts.Logger.Args("host", info.Host, "port", info.Port, "database", info.Database, "max_conns", cfg.MaxConns))
	return nil
}

// classifyConnectError maps SQLSTATE codes to error kinds. Messages name the
// host and database only.
func classifyConnectError(info *dsn.DSNInfo, err error) error {
	target := fmt.Sprintf("%s:%s/%s", info.Host, info.Port, info.Database)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000":
			return apperrors.Newf(apperrors.ConnectionAuth, "authentication failed for %s", target)
		case "3D000":
			return apperrors.Newf(apperrors.ConnectionMissingDatabase, "database %q does not exist on %s:%s",
				info.Database, info.Host, info.Port)
		}
		return apperrors.Newf(apperrors.ConnectionFailed, "cannot connect to %s (SQLSTATE %s)", target, pgErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Newf(apperrors.ConnectionFailed, "timed out connecting to %s", target)
	}
	return apperrors.Newf(apperrors.ConnectionFailed, "cannot connect to %s", target)
}

func (a *Postgres) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateInitialized {
		a.pool.Close()
		a.pool = nil
	}
	a.state = stateClosed
	return nil
}

func (a *Postgres) Initialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state == stateInitialized
}

func (a *Postgres) handle() (*pgxpool.Pool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != stateInitialized {
		return nil, notInitialized(a.Kind())
	}
	return a.pool, nil
}

func (a *Postgres) Transform(query string, params Params) (string, []any, error) {
	norm, err := NormalizeParams(params)
	if err != nil {
		return "", nil, err
	}
	return TransformPostgres(query, norm)
}

func (a *Postgres) Prepare(query string, params Params) (Batch, error) {
	return prepare(query, params, TransformPostgres)
}

func (a *Postgres) ExecuteBatch(ctx context.Context, batch Batch) ([]Row, error) {
	pool, err := a.handle()
	if err != nil {
		return nil, err
	}
	return a.run(ctx, pool, false, batch)
}

func (a *Postgres) ExecuteQuery(ctx context.Context, query string, params Params) ([]Row, error) {
	pool, err := a.handle()
	if err != nil {
		return nil, err
	}
	batch, err := a.Prepare(query, params)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, pool, false, batch)
}

func (a *Postgres) ExecuteSingleStatement(ctx context.Context, query string, params Params) ([]Row, error) {
	pool, err := a.handle()
	if err != nil {
		return nil, err
	}
	batch, err := prepareSingle(query, params, TransformPostgres)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, pool, false, batch)
}

func (a *Postgres) Transaction(ctx context.Context, work func(ctx context.Context, tx Querier) (any, error)) (result any, err error) {
	pool, err := a.handle()
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, wrapExec("begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	result, err = work(ctx, &pgTx{adapter: a, tx: tx})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapExec("commit transaction", err)
	}
	return result, nil
}

// Lock takes a session-level advisory lock on a dedicated pool connection.
// The lock holds that connection for the whole run, so the pool needs a
// second one for the migrations themselves.
func (a *Postgres) Lock(ctx context.Context) (func(context.Context) error, error) {
	pool, err := a.handle()
	if err != nil {
		return nil, err
	}
	if n := pool.Config().MaxConns; n < MinLockConns {
		return nil, apperrors.Newf(apperrors.InvalidParameters,
			"migration lock needs max_conns >= %d, got %d", MinLockConns, n)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, wrapExec("acquire connection for migration lock", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		conn.Release()
		return nil, wrapExec("acquire migration lock", err)
	}
	return func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey)
		return err
	}, nil
}

// run executes a batch. Inside a transaction under PolicyContinue each
// statement gets a savepoint so a failure does not poison the rest.
func (a *Postgres) run(ctx context.Context, q pgQuerier, inTx bool, batch Batch) ([]Row, error) {
	savepoints := inTx && a.opts.Policy == PolicyContinue && len(batch.Statements) > 1
	return runBatch(ctx, batch, a.opts.Policy, a.opts.Logger, func(ctx context.Context, stmt Statement) ([]Row, error) {
		if !savepoints {
			return queryPg(ctx, q, stmt)
		}
		sp, err := q.Begin(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := queryPg(ctx, sp, stmt)
		if err != nil {
			_ = sp.Rollback(ctx)
			return nil, err
		}
		return rows, sp.Commit(ctx)
	})
}

func queryPg(ctx context.Context, q pgQuerier, stmt Statement) ([]Row, error) {
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	out := []Row{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fds))
		for i, fd := range fds {
			row[fd.Name] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue turns pgx-decoded values into JSON-friendly ones: UUIDs
// become canonical strings and pgtype values are unwrapped through
// driver.Valuer.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return formatUUID(val)
	case driver.Valuer:
		out, err := val.Value()
		if err != nil {
			return v
		}
		return out
	}
	return v
}

func formatUUID(b [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// pgTx is the transaction-scoped Querier.
type pgTx struct {
	adapter *Postgres
	tx      pgx.Tx
}

func (t *pgTx) ExecuteQuery(ctx context.Context, query string, params Params) ([]Row, error) {
	batch, err := t.adapter.Prepare(query, params)
	if err != nil {
		return nil, err
	}
	return t.adapter.run(ctx, t.tx, true, batch)
}

func (t *pgTx) ExecuteSingleStatement(ctx context.Context, query string, params Params) ([]Row, error) {
	batch, err := prepareSingle(query, params, TransformPostgres)
	if err != nil {
		return nil, err
	}
	return t.adapter.run(ctx, t.tx, true, batch)
}
