// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package dsn

import (
	"sort"
	"strings"

	apperrors "sqlgate/cli/internal/errors"
)

// schemes maps every accepted URL scheme to its backend.
var schemes = map[string]DBType{
	"sqlite":     DBTypeSQLite,
	"sqlite3":    DBTypeSQLite,
	"postgres":   DBTypePostgreSQL,
	"postgresql": DBTypePostgreSQL,
}

// Schemes lists the accepted URL schemes in sorted order.
func Schemes() []string {
	out := make([]string, 0, len(schemes))
	for s := range schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Scheme returns the lower-cased scheme of a connection URL, or "" if it has none.
func Scheme(dsn string) string {
	i := strings.Index(dsn, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(dsn[:i])
}

// DetectDBType detects the backend from a connection URL scheme.
func DetectDBType(dsn string) DBType {
	if t, ok := schemes[Scheme(dsn)]; ok {
		return t
	}
	return DBTypeUnknown
}

// resolverFor returns the resolver for dsn or an unsupported_protocol error.
func resolverFor(dsn string) (Resolver, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, NewParseError(dsn, "empty DSN", "provide a database URL such as sqlite://app.db or postgres://user@host/db")
	}

	switch DetectDBType(dsn) {
	case DBTypeSQLite:
		return NewSQLiteResolver(), nil
	case DBTypePostgreSQL:
		return NewPostgreSQLResolver(), nil
	}

	scheme := Scheme(dsn)
	if scheme == "" {
		scheme = "(none)"
	}
	return nil, apperrors.Newf(apperrors.UnsupportedProtocol,
		"unsupported database protocol %q; use sqlite://, postgres:// or postgresql://", scheme)
}

// Parse parses a connection URL and returns the normalized driver connection string.
// This is the main entry point for DSN parsing.
func Parse(dsn string) (string, error) {
	resolver, err := resolverFor(dsn)
	if err != nil {
		return "", err
	}

	info, err := resolver.Parse(dsn)
	if err != nil {
		return "", err
	}

	return resolver.Normalize(info)
}

// Validate validates a connection URL without normalizing it.
func Validate(dsn string) error {
	resolver, err := resolverFor(dsn)
	if err != nil {
		return err
	}
	return resolver.Validate(dsn)
}

// ParseInfo parses a connection URL and returns detailed DSN info.
func ParseInfo(dsn string) (*DSNInfo, error) {
	resolver, err := resolverFor(dsn)
	if err != nil {
		return nil, err
	}
	return resolver.Parse(dsn)
}
