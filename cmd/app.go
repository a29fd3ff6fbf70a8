// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"os"

	"sqlgate/cli/internal/adapter"
	"sqlgate/cli/internal/config"
	"sqlgate/cli/internal/keychain"
	"sqlgate/cli/internal/logging"
	"sqlgate/cli/internal/pipeline"
	"sqlgate/cli/internal/source"

	"github.com/pterm/pterm"
)

// app bundles what every database-facing command needs.
type app struct {
	cfg    *config.Config
	logger *pterm.Logger
}

// loadApp reads configuration, applies flag overrides and builds the logger.
func loadApp(needDatabase bool) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, Keychain: keychainURL})
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.LogFormat = logFormatFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if needDatabase {
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if cfg.File != "" {
		logger.Debug("config loaded", logger.Args("file", cfg.File))
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// keychainURL is the last fallback for the database URL.
func keychainURL() (string, error) {
	km, err := keychain.GetManager()
	if err != nil {
		return "", err
	}
	return km.LoadDatabaseURL()
}

func (a *app) source() (*source.Resolver, error) {
	return source.New(source.Options{
		Dir:    a.cfg.SQLDir,
		Cache:  a.cfg.SQLCache,
		Logger: a.logger,
	})
}

func (a *app) adapterOptions() (adapter.Options, error) {
	policy, err := adapter.ParsePolicy(a.cfg.Database.StatementPolicy)
	if err != nil {
		return adapter.Options{}, err
	}
	return adapter.Options{
		MaxConns:       int32(a.cfg.Database.MaxConns),
		IdleTimeout:    a.cfg.Database.IdleTimeout,
		ConnectTimeout: a.cfg.Database.ConnectTimeout,
		Policy:         policy,
		BindFallback:   a.cfg.Database.BindFallback,
		Logger:         a.logger,
	}, nil
}

// setup opens the database and applies pending migrations.
func (a *app) setup(ctx context.Context, onMigration func(string)) (adapter.Adapter, *source.Resolver, []string, error) {
	src, err := a.source()
	if err != nil {
		return nil, nil, nil, err
	}
	opts, err := a.adapterOptions()
	if err != nil {
		return nil, nil, nil, err
	}
	db, applied, err := pipeline.Setup(ctx, pipeline.SetupOptions{
		URL:           a.cfg.Database.URL,
		Adapter:       opts,
		Migrations:    src,
		MigrationLock: a.cfg.Database.MigrationLock,
		Logger:        a.logger,
		OnMigration:   onMigration,
	})
	if err != nil {
		return nil, nil, applied, err
	}
	return db, src, applied, nil
}

// open initializes the adapter without running migrations.
func (a *app) open(ctx context.Context) (adapter.Adapter, error) {
	opts, err := a.adapterOptions()
	if err != nil {
		return nil, err
	}
	db, err := adapter.Open(a.cfg.Database.URL, opts)
	if err != nil {
		return nil, err
	}
	if err := db.Init(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
