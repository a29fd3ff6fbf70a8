// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package adapter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	apperrors "sqlgate/cli/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, opts Options) Adapter {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "nested", "app.db")
	a, err := Open(url, opts)
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSQLiteParameterRoundTrip(t *testing.T) {
	a := openSQLite(t, Options{})
	rows, err := a.ExecuteQuery(context.Background(), "SELECT :x AS v", Params{"x": 42})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"v": int64(42)}}, rows)

	rows, err = a.ExecuteQuery(context.Background(), "SELECT :x AS v", Params{"@x": "hi"})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"v": "hi"}}, rows)
}

func TestSQLiteMultiStatement(t *testing.T) {
	a := openSQLite(t, Options{})
	ctx := context.Background()

	rows, err := a.ExecuteQuery(ctx, `
		CREATE TABLE users(id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO users(name) VALUES (:name);
		INSERT INTO users(name) VALUES ('semi;colon');
		SELECT id, name FROM users ORDER BY id;`, Params{"name": "ann", "unused": 1})
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"id": int64(1), "name": "ann"},
		{"id": int64(2), "name": "semi;colon"},
	}, rows)

	t.Run("write with no match yields empty rows", func(t *testing.T) {
		rows, err := a.ExecuteQuery(ctx, "UPDATE users SET name = :name WHERE id = :id", Params{"name": "x", "id": 99})
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	t.Run("abort stops at the failing statement", func(t *testing.T) {
		_, err := a.ExecuteQuery(ctx, "SELECT 1; SELECT * FROM missing; INSERT INTO users(name) VALUES ('late')", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrExecutionFailed))
		assert.Contains(t, err.Error(), "statement 2 of 3")
		assert.Contains(t, err.Error(), "missing")

		rows, err := a.ExecuteQuery(ctx, "SELECT count(*) AS n FROM users WHERE name = 'late'", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rows[0]["n"])
	})
}

func TestSQLiteContinuePolicy(t *testing.T) {
	a := openSQLite(t, Options{Policy: PolicyContinue})
	rows, err := a.ExecuteQuery(context.Background(), "SELECT 1 AS a; SELECT * FROM missing; SELECT 2 AS b", nil)
	require.NoError(t, err)
	assert.Equal(t, []Row{{"a": int64(1)}, {"b": int64(2)}}, rows)

	// A lone statement still reports its error.
	_, err = a.ExecuteQuery(context.Background(), "SELECT * FROM missing", nil)
	assert.True(t, errors.Is(err, apperrors.ErrExecutionFailed))
}

func TestSQLiteBinding(t *testing.T) {
	t.Run("missing parameter fails by default", func(t *testing.T) {
		a := openSQLite(t, Options{})
		_, err := a.ExecuteQuery(context.Background(), "SELECT :x AS v", nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.InvalidParameters, apperrors.KindOf(err))
	})

	t.Run("fallback binds NULL", func(t *testing.T) {
		a := openSQLite(t, Options{BindFallback: true})
		rows, err := a.ExecuteQuery(context.Background(), "SELECT :x AS v", nil)
		require.NoError(t, err)
		assert.Equal(t, []Row{{"v": nil}}, rows)
	})
}

func TestSQLiteSingleStatement(t *testing.T) {
	a := openSQLite(t, Options{})
	rows, err := a.ExecuteSingleStatement(context.Background(), "SELECT ';' AS s, :n AS n", Params{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, []Row{{"s": ";", "n": int64(3)}}, rows)
}

func TestSQLiteTransaction(t *testing.T) {
	a := openSQLite(t, Options{})
	ctx := context.Background()
	_, err := a.ExecuteQuery(ctx, "CREATE TABLE items(name TEXT)", nil)
	require.NoError(t, err)

	count := func() int64 {
		rows, err := a.ExecuteQuery(ctx, "SELECT count(*) AS n FROM items", nil)
		require.NoError(t, err)
		return rows[0]["n"].(int64)
	}

	t.Run("commit returns work result", func(t *testing.T) {
		got, err := a.Transaction(ctx, func(ctx context.Context, tx Querier) (any, error) {
			if _, err := tx.ExecuteQuery(ctx, "INSERT INTO items VALUES (:n)", Params{"n": "a"}); err != nil {
				return nil, err
			}
			return "done", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", got)
		assert.Equal(t, int64(1), count())
	})

	t.Run("error rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := a.Transaction(ctx, func(ctx context.Context, tx Querier) (any, error) {
			_, err := tx.ExecuteQuery(ctx, "INSERT INTO items VALUES ('b')", nil)
			require.NoError(t, err)
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(1), count())
	})

	t.Run("panic rolls back and propagates", func(t *testing.T) {
		assert.Panics(t, func() {
			_, _ = a.Transaction(ctx, func(ctx context.Context, tx Querier) (any, error) {
				_, _ = tx.ExecuteQuery(ctx, "INSERT INTO items VALUES ('c')", nil)
				panic("boom")
			})
		})
		assert.Equal(t, int64(1), count())
	})
}

func TestSQLiteLifecycle(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "app.db")
	a, err := Open(url, Options{})
	require.NoError(t, err)
	assert.False(t, a.Initialized())

	_, err = a.ExecuteQuery(context.Background(), "SELECT 1", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotInitialized))

	require.NoError(t, a.Init(context.Background()))
	assert.True(t, a.Initialized())
	require.NoError(t, a.Close())
	assert.False(t, a.Initialized())

	_, err = a.ExecuteQuery(context.Background(), "SELECT 1", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotInitialized))
	_, err = a.Transaction(context.Background(), func(context.Context, Querier) (any, error) { return nil, nil })
	assert.True(t, errors.Is(err, apperrors.ErrNotInitialized))

	assert.True(t, errors.Is(a.Init(context.Background()), apperrors.ErrNotInitialized))
}

func TestOpenUnsupportedScheme(t *testing.T) {
	for _, url := range []string{"mysql://root@localhost/app", "mongodb://x", "app.db"} {
		_, err := Open(url, Options{})
		require.Error(t, err, url)
		assert.True(t, errors.Is(err, apperrors.ErrUnsupportedProtocol), url)
	}
}

func TestSQLiteMemoryDatabasesAreIsolated(t *testing.T) {
	ctx := context.Background()
	open := func() Adapter {
		a, err := Open("sqlite://:memory:", Options{})
		require.NoError(t, err)
		require.NoError(t, a.Init(ctx))
		t.Cleanup(func() { _ = a.Close() })
		return a
	}
	first, second := open(), open()

	_, err := first.ExecuteQuery(ctx, "CREATE TABLE only_first(x INTEGER); INSERT INTO only_first VALUES (1)", nil)
	require.NoError(t, err)

	rows, err := first.ExecuteQuery(ctx, "SELECT x FROM only_first", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = second.ExecuteQuery(ctx, "SELECT x FROM only_first", nil)
	assert.True(t, errors.Is(err, apperrors.ErrExecutionFailed), "second adapter sees first's table: %v", err)
}
