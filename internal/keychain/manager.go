// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package keychain stores the database URL in the OS credential store so it
// never has to live in a config file or shell history.
//
// Native stores are preferred (macOS Keychain, Windows Credential Manager,
// Secret Service, KWallet, pass). On hosts without one, an encrypted file
// under the XDG state dir is used when SQLGATE_KEYRING_PASSWORD is set.
package keychain

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"sqlgate/cli/internal/xdg"

	"github.com/99designs/keyring"
)

// Global keychain manager instance
var (
	globalManager *Manager
	mu            sync.Mutex
)

// ServiceName identifies our keychain/credential store namespace.
const ServiceName = "sqlgate"

// KeyDatabaseURL is the item holding the database connection URL.
const KeyDatabaseURL = "database_url"

// PasswordEnv unlocks the encrypted file backend.
const PasswordEnv = "SQLGATE_KEYRING_PASSWORD"

// ErrNotFound is returned when no URL has been stored.
var ErrNotFound = errors.New("no database URL stored in keychain")

// Manager provides thread-safe access to the stored database URL.
type Manager struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// NewManager opens the OS keyring.
func NewManager() (*Manager, error) {
	ring, err := openRing()
	if err != nil {
		return nil, err
	}
	return &Manager{ring: ring}, nil
}

// NewWithKeyring wraps an already opened keyring.
func NewWithKeyring(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// GetManager returns the global keychain manager instance.
// If initialization fails, it will retry on subsequent calls.
func GetManager() (*Manager, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalManager != nil {
		return globalManager, nil
	}
	m, err := NewManager()
	if err != nil {
		return nil, err
	}
	globalManager = m
	return globalManager, nil
}

func openRing() (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
		WinCredPrefix:            ServiceName,
		PassPrefix:               ServiceName,
	}

	if pw := os.Getenv(PasswordEnv); pw != "" {
		dir, err := xdg.StateDir()
		if err != nil {
			return nil, err
		}
		cfg.AllowedBackends = append(cfg.AllowedBackends, keyring.FileBackend)
		cfg.FileDir = filepath.Join(dir, "keyring")
		cfg.FilePasswordFunc = keyring.FixedStringPrompt(pw)
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		if errors.Is(err, keyring.ErrNoAvailImpl) {
			return nil, errors.New("no OS credential store available; set " + PasswordEnv + " to use an encrypted file store")
		}
		return nil, err
	}
	return ring, nil
}

// SaveDatabaseURL stores the database URL.
func (m *Manager) SaveDatabaseURL(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Set(keyring.Item{
		Key:         KeyDatabaseURL,
		Data:        []byte(url),
		Label:       "sqlgate database URL",
		Description: "connection URL used by sqlgate",
	})
}

// LoadDatabaseURL returns the stored URL or ErrNotFound.
func (m *Manager) LoadDatabaseURL() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, err := m.ring.Get(KeyDatabaseURL)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	if len(it.Data) == 0 {
		return "", ErrNotFound
	}
	return string(it.Data), nil
}

// ClearDatabaseURL removes the stored URL. Removing a missing item is not an error.
func (m *Manager) ClearDatabaseURL() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ring.Remove(KeyDatabaseURL); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}
