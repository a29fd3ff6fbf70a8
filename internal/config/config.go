// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config loads sqlgate settings from sqlgate.yaml, SQLGATE_* environment
// variables and .env files. The database URL may also come from DATABASE_URL
// or the OS keychain; it is never written back to disk.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"sqlgate/cli/internal/adapter"
	"sqlgate/cli/internal/dsn"
	"sqlgate/cli/internal/xdg"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// AppFs is the filesystem used for config and .env lookups.
var AppFs = afero.NewOsFs()

// Where the database URL came from.
const (
	SourceConfig   = "config"
	SourceEnv      = "DATABASE_URL"
	SourceKeychain = "keychain"
)

// Config holds the resolved settings.
type Config struct {
	LogLevel  string
	LogFormat string
	SQLDir    string
	SQLCache  bool
	SQLWatch  bool
	Database  DatabaseConfig
	HTTP      HTTPConfig
	Auth      AuthConfig
	Health    HealthConfig
	// File is the config file that was read, if any.
	File string
}

// DatabaseConfig holds connection and execution settings.
type DatabaseConfig struct {
	URL             string
	URLSource       string
	MaxConns        int
	IdleTimeout     time.Duration
	ConnectTimeout  time.Duration
	// StatementPolicy is abort or continue for multi-statement text,
	// including migration files: under continue a failing statement in a
	// migration is logged and skipped and the file is still recorded.
	StatementPolicy string
	BindFallback    bool
	// MigrationLock takes a postgres advisory lock around migrations. It
	// holds one pool connection, so max_conns must be at least 2.
	MigrationLock   bool
}

// HTTPConfig configures the HTTP and WebSocket listener.
type HTTPConfig struct {
	Addr        string
	StaticDir   string
	CORSOrigins []string
	APIPrefix   string
}

// AuthConfig enables bearer-token auth when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// HealthConfig configures the gRPC health listener; empty Addr disables it.
type HealthConfig struct {
	Addr string
}

// LoadOptions tunes Load.
type LoadOptions struct {
	// ConfigFile overrides the sqlgate.yaml search.
	ConfigFile string
	// Keychain, when set, is consulted for the database URL last.
	Keychain func() (string, error)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("sql_dir", "./sql")
	v.SetDefault("sql_cache", true)
	v.SetDefault("sql_watch", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.idle_timeout", 5*time.Minute)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.statement_policy", "abort")
	v.SetDefault("database.bind_fallback", false)
	v.SetDefault("database.migration_lock", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.static_dir", "")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.api_prefix", "/api")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("health.addr", "")
}

// Load resolves configuration. A missing config file is not an error.
func Load(opts LoadOptions) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetFs(AppFs)
	setDefaults(v)

	v.SetEnvPrefix("SQLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("sqlgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := xdg.ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		SQLDir:    v.GetString("sql_dir"),
		SQLCache:  v.GetBool("sql_cache"),
		SQLWatch:  v.GetBool("sql_watch"),
		Database: DatabaseConfig{
			URL:             strings.TrimSpace(v.GetString("database.url")),
			MaxConns:        v.GetInt("database.max_conns"),
			IdleTimeout:     v.GetDuration("database.idle_timeout"),
			ConnectTimeout:  v.GetDuration("database.connect_timeout"),
			StatementPolicy: v.GetString("database.statement_policy"),
			BindFallback:    v.GetBool("database.bind_fallback"),
			MigrationLock:   v.GetBool("database.migration_lock"),
		},
		HTTP: HTTPConfig{
			Addr:        v.GetString("http.addr"),
			StaticDir:   v.GetString("http.static_dir"),
			CORSOrigins: splitList(v.GetStringSlice("http.cors_origins")),
			APIPrefix:   v.GetString("http.api_prefix"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
		},
		Health: HealthConfig{Addr: v.GetString("health.addr")},
		File:   v.ConfigFileUsed(),
	}
	cfg.resolveDatabaseURL(opts.Keychain)
	return cfg, nil
}

// loadDotEnv loads .env then .env.local; neither overrides variables already
// set in the process except .env.local over .env.
func loadDotEnv() {
	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}
}

func (c *Config) resolveDatabaseURL(keychain func() (string, error)) {
	if c.Database.URL != "" {
		c.Database.URLSource = SourceConfig
		return
	}
	if url := strings.TrimSpace(os.Getenv("DATABASE_URL")); url != "" {
		c.Database.URL = url
		c.Database.URLSource = SourceEnv
		return
	}
	if keychain != nil {
		if url, err := keychain(); err == nil && strings.TrimSpace(url) != "" {
			c.Database.URL = strings.TrimSpace(url)
			c.Database.URLSource = SourceKeychain
		}
	}
}

// splitList accepts both YAML lists and a comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SQLDir) == "" {
		return errors.New("sql_dir must not be empty")
	}
	switch c.Database.StatementPolicy {
	case "abort", "continue":
	default:
		return fmt.Errorf("database.statement_policy must be abort or continue, got %q", c.Database.StatementPolicy)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be positive, got %d", c.Database.MaxConns)
	}
	if c.Database.MigrationLock && c.Database.MaxConns < adapter.MinLockConns &&
		dsn.DetectDBType(c.Database.URL) == dsn.DBTypePostgreSQL {
		return fmt.Errorf("database.max_conns must be at least %d while database.migration_lock is on, got %d",
			adapter.MinLockConns, c.Database.MaxConns)
	}
	if c.Database.ConnectTimeout <= 0 {
		return errors.New("database.connect_timeout must be positive")
	}
	if c.Database.IdleTimeout <= 0 {
		return errors.New("database.idle_timeout must be positive")
	}
	if c.HTTP.APIPrefix != "" && !strings.HasPrefix(c.HTTP.APIPrefix, "/") {
		return fmt.Errorf("http.api_prefix must start with '/', got %q", c.HTTP.APIPrefix)
	}
	return nil
}

// RequireDatabase returns an error naming every place a URL may come from.
func (c *Config) RequireDatabase() error {
	if c.Database.URL != "" {
		return nil
	}
	return errors.New("no database URL configured; set database.url, SQLGATE_DATABASE_URL or DATABASE_URL, or run 'sqlgate connect'")
}
