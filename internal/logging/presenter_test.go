// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"strings"
	"testing"

	"sqlgate/cli/internal/dsn"
	apperrors "sqlgate/cli/internal/errors"
)

func TestFormatStartupErrorListsEveryScheme(t *testing.T) {
	out := FormatStartupError(apperrors.New(apperrors.UnsupportedProtocol, "unsupported scheme mysql"))
	for _, scheme := range dsn.Schemes() {
		if !strings.Contains(out, " "+scheme+"://") {
			t.Errorf("hint does not list %s://:\n%s", scheme, out)
		}
	}
	if !strings.Contains(out, "sqlite3://") {
		t.Errorf("hint does not list sqlite3://:\n%s", out)
	}
}

func TestFormatStartupErrorMasksDetails(t *testing.T) {
	err := apperrors.New(apperrors.ConnectionFailed, "cannot connect to postgres://app:secret@db/app")
	out := FormatStartupError(err)
	if strings.Contains(out, "secret") {
		t.Errorf("credentials leaked:\n%s", out)
	}
}
