// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package adapter

import (
	"fmt"
	"sort"
	"strings"

	apperrors "sqlgate/cli/internal/errors"

	"github.com/goccy/go-json"
)

// NormalizeParams strips an optional leading ':', '@' or '$' from every key and
// converts values to bindable scalars. Two keys that collapse to the same
// name are rejected.
func NormalizeParams(params Params) (Params, error) {
	out := make(Params, len(params))
	if len(params) == 0 {
		return out, nil
	}

	// Iterate in key order so collision errors are reproducible.
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	origin := make(map[string]string, len(params))
	for _, key := range keys {
		name := strings.TrimLeft(key, ":@$")
		if name == "" {
			return nil, apperrors.Newf(apperrors.InvalidParameters, "parameter key %q has no name", key)
		}
		if prev, dup := origin[name]; dup {
			return nil, apperrors.Newf(apperrors.InvalidParameters,
				"parameter keys %q and %q both name %q", prev, key, name)
		}
		value, err := bindable(params[key])
		if err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidParameters, fmt.Sprintf("parameter %q", name), err)
		}
		origin[name] = key
		out[name] = value
	}
	return out, nil
}

// bindable converts JSON-decoded values to driver-friendly ones. Numbers
// decoded with UseNumber become int64 when integral; objects and arrays are
// bound as their JSON text.
func bindable(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		return f, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}
