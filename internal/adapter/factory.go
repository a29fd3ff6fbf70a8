// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package adapter

import (
	"sqlgate/cli/internal/dsn"
	apperrors "sqlgate/cli/internal/errors"
)

var (
	_ Adapter = (*SQLite)(nil)
	_ Adapter = (*Postgres)(nil)
	_ Locker  = (*Postgres)(nil)
)

// Open selects the adapter for url by scheme. The adapter still needs Init.
// Schemes outside sqlite, sqlite3, postgres and postgresql fail with
// unsupported_protocol before anything is opened.
func Open(url string, opts Options) (Adapter, error) {
	if err := dsn.Validate(url); err != nil {
		return nil, err
	}
	switch dsn.DetectDBType(url) {
	case dsn.DBTypeSQLite:
		return NewSQLite(url, opts), nil
	case dsn.DBTypePostgreSQL:
		return NewPostgres(url, opts), nil
	}
	return nil, apperrors.Newf(apperrors.UnsupportedProtocol, "unsupported database protocol %q", dsn.Scheme(url))
}
