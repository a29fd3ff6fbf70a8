// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("sql", 0o755))
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("sql", name), []byte(body), 0o644))
	}
	return fs
}

func TestCachedResolver(t *testing.T) {
	fs := memFs(t, map[string]string{
		"get_users.sql":          "SELECT * FROM users",
		"_0002_add_email.sql":    "ALTER TABLE users ADD COLUMN email TEXT",
		"_0001_create_users.sql": "CREATE TABLE users(id INTEGER)",
		"README.md":              "not sql",
	})

	r, err := New(Options{Dir: "sql", Fs: fs, Cache: true})
	require.NoError(t, err)

	text, err := r.Resolve("get_users")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users", text)

	t.Run("migrations are not addressable", func(t *testing.T) {
		_, err := r.Resolve("_0001_create_users")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := r.Resolve("nope")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("path traversal rejected", func(t *testing.T) {
		_, err := r.Resolve("../etc/passwd")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("migrations sorted by file name", func(t *testing.T) {
		files, err := r.Migrations()
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "_0001_create_users.sql", files[0].Name)
		assert.Equal(t, "_0002_add_email.sql", files[1].Name)

		body, err := r.ReadMigration(files[1])
		require.NoError(t, err)
		assert.Contains(t, body, "ADD COLUMN email")
	})

	t.Run("cache ignores later edits until reload", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "sql/get_users.sql", []byte("SELECT 2"), 0o644))
		text, err := r.Resolve("get_users")
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM users", text)

		require.NoError(t, r.Load())
		text, err = r.Resolve("get_users")
		require.NoError(t, err)
		assert.Equal(t, "SELECT 2", text)
	})

	names, err := r.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"get_users"}, names)
}

func TestLiveResolver(t *testing.T) {
	fs := memFs(t, map[string]string{"count.sql": "SELECT 1"})

	r, err := New(Options{Dir: "sql", Fs: fs})
	require.NoError(t, err)
	assert.False(t, r.Cached())

	text, err := r.Resolve("count")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", text)

	require.NoError(t, afero.WriteFile(fs, "sql/count.sql", []byte("SELECT 2"), 0o644))
	text, err = r.Resolve("count")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", text)

	require.NoError(t, afero.WriteFile(fs, "sql/_0001_init.sql", []byte("CREATE TABLE a(x INT)"), 0o644))
	files, err := r.Migrations()
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = r.Resolve("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNewErrors(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Dir: "absent", Fs: afero.NewMemMapFs(), Cache: true})
	assert.Error(t, err)
}

func TestIsMigration(t *testing.T) {
	assert.True(t, IsMigration("_0001_init.sql"))
	assert.True(t, IsMigration("_0001_init.SQL"))
	assert.False(t, IsMigration("get_users.sql"))
	assert.False(t, IsMigration("_notes.txt"))
}

func TestWatchReloadsCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ping.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1"), 0o644))

	r, err := New(Options{Dir: dir, Cache: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := r.Watch(ctx)
	require.NoError(t, err)
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, os.WriteFile(path, []byte("SELECT 2"), 0o644))

	assert.Eventually(t, func() bool {
		text, err := r.Resolve("ping")
		return err == nil && text == "SELECT 2"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchRequiresCache(t *testing.T) {
	r, err := New(Options{Dir: t.TempDir()})
	require.NoError(t, err)
	_, err = r.Watch(context.Background())
	assert.Error(t, err)
}
