// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package keychain

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseURLRoundTrip(t *testing.T) {
	m := NewWithKeyring(keyring.NewArrayKeyring(nil))

	_, err := m.LoadDatabaseURL()
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, m.SaveDatabaseURL("postgres://app:secret@db:5432/app"))
	got, err := m.LoadDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db:5432/app", got)

	require.NoError(t, m.ClearDatabaseURL())
	_, err = m.LoadDatabaseURL()
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, m.ClearDatabaseURL(), "clearing twice is fine")
}
