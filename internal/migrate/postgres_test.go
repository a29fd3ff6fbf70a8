// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sqlgate/cli/internal/adapter"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/pgtest"
	"sqlgate/cli/internal/source"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	pgtest.Main(m)
}

// setupPostgres opens a clean database with the given migration files.
func setupPostgres(t *testing.T, opts adapter.Options, files map[string]string) (adapter.Adapter, *source.Resolver) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("sql", 0o755))
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("sql", name), []byte(body), 0o644))
	}
	src, err := source.New(source.Options{Dir: "sql", Fs: fs, Cache: true})
	require.NoError(t, err)

	db, err := adapter.Open(pgtest.URL(t), opts)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.Init(ctx))

	reset := func() {
		_, _ = db.ExecuteQuery(ctx, "DROP TABLE IF EXISTS schema_migrations; DROP TABLE IF EXISTS pg_users", nil)
	}
	reset()
	t.Cleanup(func() {
		reset()
		_ = db.Close()
	})
	return db, src
}

func TestPostgresRunWithLock(t *testing.T) {
	db, src := setupPostgres(t, adapter.Options{}, map[string]string{
		"_0001_create_users.sql": "CREATE TABLE pg_users(id serial PRIMARY KEY, name text);\nINSERT INTO pg_users(name) VALUES ('ann');",
		"_0002_add_email.sql":    "ALTER TABLE pg_users ADD COLUMN email text",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r := New(db, src, Options{Lock: true})

	applied, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_0001_create_users.sql", "_0002_add_email.sql"}, applied)

	applied, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	rows, err := db.ExecuteQuery(ctx, "SELECT name, email FROM pg_users", nil)
	require.NoError(t, err)
	assert.Equal(t, []adapter.Row{{"name": "ann", "email": nil}}, rows)

	status, err := r.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	for _, s := range status {
		assert.True(t, s.Applied, s.Name)
		assert.False(t, s.AppliedAt.IsZero(), s.Name)
	}
}

func TestPostgresRunLockWithSingleConnection(t *testing.T) {
	db, src := setupPostgres(t, adapter.Options{MaxConns: 1}, map[string]string{
		"_0001_create_users.sql": "CREATE TABLE pg_users(id int)",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := New(db, src, Options{Lock: true}).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMigrationFailed))
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	applied, err := New(db, src, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_0001_create_users.sql"}, applied)
}

func TestPostgresRunFailureRollsBackFile(t *testing.T) {
	db, src := setupPostgres(t, adapter.Options{}, map[string]string{
		"_0001_create_users.sql": "CREATE TABLE pg_users(id int); INSERT INTO pg_missing VALUES (1)",
	})
	ctx := context.Background()

	_, err := New(db, src, Options{}).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.MigrationFailed, apperrors.KindOf(err))

	_, err = db.ExecuteQuery(ctx, "SELECT * FROM pg_users", nil)
	assert.Error(t, err)
	rows, err := db.ExecuteQuery(ctx, "SELECT count(*) AS n FROM schema_migrations", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows[0]["n"])
}

func TestPostgresRunContinueUsesSavepoints(t *testing.T) {
	db, src := setupPostgres(t, adapter.Options{Policy: adapter.PolicyContinue}, map[string]string{
		"_0001_create_users.sql": "CREATE TABLE pg_users(id int); DROP INDEX pg_missing_idx; INSERT INTO pg_users VALUES (7)",
	})
	ctx := context.Background()

	applied, err := New(db, src, Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"_0001_create_users.sql"}, applied)

	rows, err := db.ExecuteQuery(ctx, "SELECT id FROM pg_users", nil)
	require.NoError(t, err)
	assert.Equal(t, []adapter.Row{{"id": int32(7)}}, rows)
}
