// Package config loads cardfile settings from the environment.
//
// Variables carry the CARDFILE_ prefix (CARDFILE_DATA_DIR, CARDFILE_LOCK_MODE,
// ...). A .env file, when present, is loaded first and never overrides
// variables already set in the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "CARDFILE"

// DefaultEnvFile is the dotenv file read by Load when none is named.
const DefaultEnvFile = ".env"

// Config holds the resolved settings.
type Config struct {
	DataDir       string        `envconfig:"DATA_DIR" default:"data" validate:"required"`
	LockMode      string        `envconfig:"LOCK_MODE" default:"auto" validate:"oneof=auto flock create"`
	LockTimeout   time.Duration `envconfig:"LOCK_TIMEOUT" default:"10s" validate:"gt=0"`
	LockRetry     time.Duration `envconfig:"LOCK_RETRY" default:"100ms" validate:"gt=0,ltfield=LockTimeout"`
	StrictHistory bool          `envconfig:"STRICT_HISTORY" default:"false"`
	Index         bool          `envconfig:"INDEX" default:"false"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// Load reads envFile (if it exists), then the process environment, and
// validates the result. An empty envFile means DefaultEnvFile.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CardsDir is where card documents live.
func (c *Config) CardsDir() string { return filepath.Join(c.DataDir, "cards") }

// CounterPath is the id counter file.
func (c *Config) CounterPath() string { return filepath.Join(c.DataDir, "counter.txt") }

// LockPath is the lock file guarding the counter.
func (c *Config) LockPath() string { return filepath.Join(c.DataDir, "counter.lock") }

// JournalPath is the structural-error journal.
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "logs", "errors.log") }

// IndexPath is the SQLite city index.
func (c *Config) IndexPath() string { return filepath.Join(c.DataDir, "index.db") }

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
