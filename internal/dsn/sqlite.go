// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package dsn

import (
	"net/url"
	"sort"
	"strings"
)

// MemoryPath names a private in-memory database.
const MemoryPath = ":memory:"

// defaultSQLiteParams are applied unless the URL overrides them.
var defaultSQLiteParams = map[string]string{
	"_busy_timeout": "5000",
	"_foreign_keys": "on",
}

// SQLiteResolver handles sqlite:// URLs.
//
//	sqlite://data/app.db        relative file
//	sqlite:///var/lib/app.db    absolute file
//	sqlite://:memory:           in-memory database
type SQLiteResolver struct{}

// NewSQLiteResolver creates a new SQLite resolver
func NewSQLiteResolver() *SQLiteResolver {
	return &SQLiteResolver{}
}

// Parse extracts the database path and driver options from a sqlite URL.
func (r *SQLiteResolver) Parse(dsn string) (*DSNInfo, error) {
	scheme := Scheme(dsn)
	if scheme != "sqlite" && scheme != "sqlite3" {
		return nil, NewParseError(dsn, "missing or invalid scheme", "use sqlite://")
	}

	rest := dsn[len(scheme)+len("://"):]
	info := &DSNInfo{
		Type:     DBTypeSQLite,
		Scheme:   scheme,
		Params:   make(map[string]string),
		Original: dsn,
	}

	path := rest
	if q := strings.Index(rest, "?"); q >= 0 {
		path = rest[:q]
		values, err := url.ParseQuery(rest[q+1:])
		if err != nil {
			return nil, NewParseError(dsn, "invalid query parameters", "use sqlite://path?_busy_timeout=5000")
		}
		for key, vals := range values {
			if len(vals) > 0 {
				info.Params[key] = vals[0]
			}
		}
	}

	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	if strings.TrimSpace(path) == "" {
		return nil, NewParseError(dsn, "missing database path", "use sqlite://path/to/file.db or sqlite://:memory:")
	}
	info.Path = path
	info.Database = path
	return info, nil
}

// Normalize renders the go-sqlite3 file: URI with default options merged in.
func (r *SQLiteResolver) Normalize(info *DSNInfo) (string, error) {
	if info == nil {
		return "", NewParseError("", "nil DSN info", "")
	}

	params := make(map[string]string, len(defaultSQLiteParams)+len(info.Params))
	for k, v := range defaultSQLiteParams {
		params[k] = v
	}
	for k, v := range info.Params {
		params[k] = v
	}
	// ":memory:" stays private to its connection; the adapter pins a single
	// connection, so each adapter gets its own database.

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString("file:")
	builder.WriteString(info.Path)
	for i, k := range keys {
		if i == 0 {
			builder.WriteString("?")
		} else {
			builder.WriteString("&")
		}
		builder.WriteString(url.QueryEscape(k))
		builder.WriteString("=")
		builder.WriteString(url.QueryEscape(params[k]))
	}
	return builder.String(), nil
}

// Validate checks if the URL names a usable SQLite database.
func (r *SQLiteResolver) Validate(dsn string) error {
	_, err := r.Parse(dsn)
	return err
}
