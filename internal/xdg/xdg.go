// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package xdg resolves XDG Base Directory paths for sqlgate, falling back to
// ~/.config and ~/.local/state when the XDG variables are unset.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// App is the directory name used under each XDG base.
const App = "sqlgate"

// ConfigDir returns the XDG config directory for sqlgate.
// The directory is created with private permissions (0700) if missing.
func ConfigDir() (string, error) {
	return ensure("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the XDG state directory for sqlgate.
// The directory is created with private permissions (0700) if missing.
func StateDir() (string, error) {
	return ensure("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

func ensure(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, fallback)
	}
	dir := filepath.Join(base, App)
	if err := os.MkdirAll(dir, 0o700); err != nil { // private dir
		return "", err
	}
	return dir, nil
}
