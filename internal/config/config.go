// Package config loads SyncKeeper settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "SYNCKEEPER_"

// DefaultDBFileName is the SQLite file created in the state directory when no DSN is set.
const DefaultDBFileName = "synckeeper.db"

// Config contains SyncKeeper configuration parameters.
type Config struct {
	// LogLevel uses slog level values: -4 debug, 0 info, 4 warn, 8 error.
	LogLevel int    `env:"LOG_LEVEL" envDefault:"0"`
	StateDir string `env:"STATE_DIR" envDefault:"/var/lib/synckeeper"`
	Store    Store  `envPrefix:"STORE_"`
	Auth     Auth   `envPrefix:"AUTH_"`
}

// Store contains task store parameters.
type Store struct {
	// DSN is a SQLite path or a Postgres URL. Empty selects a SQLite file in StateDir.
	DSN string `env:"DSN"`
}

// Auth contains credential manager parameters.
type Auth struct {
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1s"`
	RefreshWindow   time.Duration `env:"REFRESH_WINDOW" envDefault:"60s"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"0s"`
	// TokenFile is read by the file-based token provider.
	TokenFile string `env:"TOKEN_FILE"`
}

// Load reads the given .env files (or ./.env when none are given) into the
// process environment, then parses the configuration. Missing .env files are
// not an error; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("config.Load: .env file loaded", "files", envFiles)
	}
	return NewConfig()
}

// NewConfig parses configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the credential manager cannot run with.
func (c *Config) Validate() error {
	if c.Auth.RateLimitWindow < 0 {
		return fmt.Errorf("invalid %sAUTH_RATE_LIMIT_WINDOW %s: must not be negative", EnvPrefix, c.Auth.RateLimitWindow)
	}
	if c.Auth.RefreshWindow < 0 {
		return fmt.Errorf("invalid %sAUTH_REFRESH_WINDOW %s: must not be negative", EnvPrefix, c.Auth.RefreshWindow)
	}
	if c.Auth.ProviderTimeout < 0 {
		return fmt.Errorf("invalid %sAUTH_PROVIDER_TIMEOUT %s: must not be negative", EnvPrefix, c.Auth.ProviderTimeout)
	}
	return nil
}

// StoreDSN returns the configured DSN, defaulting to a SQLite file in StateDir.
func (c *Config) StoreDSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	return slog.Level(c.LogLevel)
}
