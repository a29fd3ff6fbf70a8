// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package adapter

import (
	"database/sql"
	"strconv"
	"strings"

	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/sqltext"
)

// TransformSQLite keeps the canonical :name markers, which SQLite binds
// natively, and returns one sql.Named argument per distinct referenced name
// in order of first appearance. Unreferenced parameters are dropped.
// params must already be normalized.
func TransformSQLite(query string, params Params) (string, []any, error) {
	names := sqltext.Names(query)
	if len(names) == 0 {
		return query, nil, nil
	}
	args := make([]any, 0, len(names))
	var missing []string
	for _, name := range names {
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		args = append(args, sql.Named(name, v))
	}
	if len(missing) > 0 {
		return "", nil, missingParams(missing)
	}
	return query, args, nil
}

// TransformPostgres rewrites :name markers to $1..$n. Each distinct name gets
// one slot, numbered by first appearance; repeated references reuse it.
// params must already be normalized.
func TransformPostgres(query string, params Params) (string, []any, error) {
	names := sqltext.Names(query)
	if len(names) == 0 {
		return query, nil, nil
	}
	slots := make(map[string]int, len(names))
	args := make([]any, 0, len(names))
	var missing []string
	for _, name := range names {
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		args = append(args, v)
		slots[name] = len(args)
	}
	if len(missing) > 0 {
		return "", nil, missingParams(missing)
	}
	native := sqltext.Rewrite(query, func(name string) string {
		return "$" + strconv.Itoa(slots[name])
	})
	return native, args, nil
}

// nullArgs binds every referenced name to NULL.
func nullArgs(query string) []any {
	names := sqltext.Names(query)
	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, sql.Named(name, nil))
	}
	return args
}

func missingParams(names []string) error {
	return apperrors.Newf(apperrors.InvalidParameters,
		"missing value for parameter(s): %s", strings.Join(names, ", "))
}
