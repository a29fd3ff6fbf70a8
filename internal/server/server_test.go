// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sqlgate/cli/internal/adapter"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/pipeline"
	"sqlgate/cli/internal/source"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name   string
	params adapter.Params
}

// fakeExec answers from a table keyed by query name.
type fakeExec struct {
	mu      sync.Mutex
	calls   []call
	results map[string][]adapter.Row
	errs    map[string]error
}

func (f *fakeExec) ExecuteNamedQuery(_ context.Context, name string, params adapter.Params) ([]adapter.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, params: params})
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if rows, ok := f.results[name]; ok {
		return rows, nil
	}
	return nil, apperrors.Newf(apperrors.QueryNotFound, "query %q not found", name)
}

func (f *fakeExec) lastCall(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newFake() *fakeExec {
	return &fakeExec{
		results: map[string][]adapter.Row{
			"get_users":   {{"id": 1, "name": "ann"}},
			"users_by_id": {{"id": 2}},
			"update_user": {},
		},
		errs: map[string]error{
			"broken":   apperrors.Wrap(apperrors.ExecutionFailed, "statement failed", errors.New("connect postgres://app:secret@db/app refused")),
			"needs_id": apperrors.New(apperrors.InvalidParameters, "missing value for parameter(s): id"),
		},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) (int, string, http.Header) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String(), rec.Header()
}

func TestQueryName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"get_users", "get_users"},
		{"users/by_id", "users_by_id"},
		{"/users//by_id/", "users_by_id"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QueryName(tt.path), tt.path)
	}
}

func TestHTTPQuery(t *testing.T) {
	fake := newFake()
	h := New(fake, Options{APIPrefix: "/api/"}).Handler()

	t.Run("path segments form the name", func(t *testing.T) {
		code, body, hdr := do(t, h, http.MethodGet, "/api/users/by_id?id=2", "", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "application/json", hdr.Get("Content-Type"))
		assert.JSONEq(t, `{"data":[{"id":2}]}`, body)
		got := fake.lastCall(t)
		assert.Equal(t, "users_by_id", got.name)
		assert.Equal(t, adapter.Params{"id": "2"}, got.params)
	})

	t.Run("body wins over query", func(t *testing.T) {
		code, _, _ := do(t, h, http.MethodPost, "/api/get_users?a=1&b=2&tag=x&tag=y", `{"b": 3, "meta": {"k": true}}`, nil)
		assert.Equal(t, http.StatusOK, code)
		got := fake.lastCall(t)
		assert.Equal(t, "1", got.params["a"])
		assert.Equal(t, json.Number("3"), got.params["b"])
		assert.Equal(t, []any{"x", "y"}, got.params["tag"])
		assert.Equal(t, map[string]any{"k": true}, got.params["meta"])
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		code, body, _ := do(t, h, http.MethodPost, "/api/update_user", "", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"data":[]}`, body)
	})

	t.Run("unknown query", func(t *testing.T) {
		code, body, _ := do(t, h, http.MethodGet, "/api/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, code)
		assert.Contains(t, body, `"kind":"query_not_found"`)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		code, body, _ := do(t, h, http.MethodGet, "/api/needs_id", "", nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body, "invalid_parameters")
	})

	t.Run("malformed body", func(t *testing.T) {
		for _, body := range []string{`{"a":`, `[1,2]`} {
			code, _, _ := do(t, h, http.MethodPost, "/api/get_users", body, nil)
			assert.Equal(t, http.StatusBadRequest, code, body)
		}
	})

	t.Run("execution error is masked", func(t *testing.T) {
		code, body, _ := do(t, h, http.MethodGet, "/api/broken", "", nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Contains(t, body, "execution_failed")
		assert.NotContains(t, body, "secret")
	})

	t.Run("health", func(t *testing.T) {
		code, _, _ := do(t, h, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("other methods rejected", func(t *testing.T) {
		code, _, _ := do(t, h, http.MethodDelete, "/api/get_users", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, code)
	})
}

func TestCORS(t *testing.T) {
	h := New(newFake(), Options{APIPrefix: "/api", CORSOrigins: []string{"https://app.example.com"}}).Handler()

	code, _, hdr := do(t, h, http.MethodOptions, "/api/get_users", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, "https://app.example.com", hdr.Get("Access-Control-Allow-Origin"))

	_, _, hdr = do(t, h, http.MethodGet, "/api/get_users", "", map[string]string{"Origin": "https://evil.test"})
	assert.Empty(t, hdr.Get("Access-Control-Allow-Origin"))

	h = New(newFake(), Options{APIPrefix: "/api", CORSOrigins: []string{"*"}}).Handler()
	_, _, hdr = do(t, h, http.MethodGet, "/api/get_users", "", map[string]string{"Origin": "https://any.test"})
	assert.Equal(t, "*", hdr.Get("Access-Control-Allow-Origin"))
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	h := New(newFake(), Options{APIPrefix: "/api", StaticDir: dir}).Handler()

	code, body, _ := do(t, h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<h1>hi</h1>")

	code, _, _ = do(t, h, http.MethodGet, "/api/get_users", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	assert.Nil(t, NewAuthenticator("", "x"), "empty secret disables auth")

	h := New(newFake(), Options{APIPrefix: "/api", Auth: NewAuthenticator("s3cr3t", "sqlgate")}).Handler()
	valid := signToken(t, "s3cr3t", jwt.MapClaims{"sub": "u1", "iss": "sqlgate", "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
		{"wrong secret", "Bearer " + signToken(t, "other", jwt.MapClaims{"iss": "sqlgate"}), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signToken(t, "s3cr3t", jwt.MapClaims{"iss": "someone"}), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, "s3cr3t", jwt.MapClaims{"iss": "sqlgate", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"basic auth", "Basic dTpw", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := map[string]string{}
			if tt.header != "" {
				hdr["Authorization"] = tt.header
			}
			code, _, _ := do(t, h, http.MethodGet, "/api/get_users", "", hdr)
			assert.Equal(t, tt.want, code)
		})
	}

	t.Run("query token only for websocket", func(t *testing.T) {
		code, _, _ := do(t, h, http.MethodGet, "/api/get_users?token="+valid, "", nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("health stays open", func(t *testing.T) {
		code, _, _ := do(t, h, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, code)
	})
}

func TestHTTPWithSQLite(t *testing.T) {
	dir := t.TempDir()
	sqlDir := filepath.Join(dir, "sql")
	require.NoError(t, os.MkdirAll(sqlDir, 0o755))
	files := map[string]string{
		"_0001_create_users.sql": "CREATE TABLE users(id INTEGER PRIMARY KEY, name TEXT);\nINSERT INTO users(name) VALUES ('ann');",
		"get_users.sql":          "SELECT id, name FROM users ORDER BY id",
		"add_user.sql":           "INSERT INTO users(name) VALUES (:name);\nSELECT id, name FROM users WHERE name = :name",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(sqlDir, name), []byte(body), 0o644))
	}
	src, err := source.New(source.Options{Dir: sqlDir, Cache: true})
	require.NoError(t, err)
	db, _, err := pipeline.Setup(context.Background(), pipeline.SetupOptions{
		URL:        "sqlite://" + filepath.Join(dir, "app.db"),
		Migrations: src,
	})
	require.NoError(t, err)
	defer db.Close()

	h := New(pipeline.New(db, src, nil), Options{APIPrefix: "/api"}).Handler()

	code, body, _ := do(t, h, http.MethodPost, "/api/add_user", `{"name":"bob"}`, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"data":[{"id":2,"name":"bob"}]}`, body)

	code, body, _ = do(t, h, http.MethodGet, "/api/get_users", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"data":[{"id":1,"name":"ann"},{"id":2,"name":"bob"}]}`, body)

	code, _, _ = do(t, h, http.MethodGet, "/api/_0001_create_users", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
