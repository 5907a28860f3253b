// Package config loads the settings of the bank account service from an
// optional YAML file and BANK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Event store backends.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreKurrentDB = "kurrentdb"
	StoreBadger    = "badger"
)

// Config holds the service settings. Environment variables win over the
// file, the file wins over Default.
type Config struct {
	HTTPAddr string `env:"BANK_HTTP_ADDR" yaml:"http_addr"`

	// EventStore is one of memory, sqlite or kurrentdb.
	EventStore   string `env:"BANK_EVENT_STORE" yaml:"event_store"`
	SQLitePath   string `env:"BANK_SQLITE_PATH" yaml:"sqlite_path"`
	KurrentDBURL string `env:"BANK_KURRENTDB_URL" yaml:"kurrentdb_url"`

	// ViewStore is one of memory, sqlite or badger.
	ViewStore  string `env:"BANK_VIEW_STORE" yaml:"view_store"`
	BadgerPath string `env:"BANK_BADGER_PATH" yaml:"badger_path"`

	// RetryAttempts bounds the retries of a command after a concurrency
	// conflict. Zero disables retries.
	RetryAttempts uint64 `env:"BANK_RETRY_ATTEMPTS" yaml:"retry_attempts"`

	// AsyncProjections feeds the views through an in-process event bus
	// instead of updating them before the command returns.
	AsyncProjections bool `env:"BANK_ASYNC_PROJECTIONS" yaml:"async_projections"`

	// CommandShards routes commands through a sharded command bus when
	// greater than zero.
	CommandShards int `env:"BANK_COMMAND_SHARDS" yaml:"command_shards"`
	CommandBuffer int `env:"BANK_COMMAND_BUFFER" yaml:"command_buffer"`

	LogLevel  string `env:"BANK_LOG_LEVEL" yaml:"log_level"`
	LogFormat string `env:"BANK_LOG_FORMAT" yaml:"log_format"`

	MetricsEnabled bool `env:"BANK_METRICS_ENABLED" yaml:"metrics_enabled"`
	TraceStdout    bool `env:"BANK_TRACE_STDOUT" yaml:"trace_stdout"`
}

// Default returns the settings of a single node running in memory.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		EventStore:     StoreMemory,
		SQLitePath:     "bank.db",
		ViewStore:      StoreMemory,
		BadgerPath:     "bank-views",
		RetryAttempts:  3,
		CommandBuffer:  64,
		LogLevel:       "info",
		LogFormat:      "text",
		MetricsEnabled: true,
	}
}

// Load reads Default, then the YAML file at path when path is not empty,
// then the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables. Unset variables
// leave the target untouched.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the settings and their combinations.
func (c Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}

	switch c.EventStore {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite event store needs BANK_SQLITE_PATH"))
		}
	case StoreKurrentDB:
		if c.KurrentDBURL == "" {
			errs = append(errs, errors.New("kurrentdb event store needs BANK_KURRENTDB_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event store %q", c.EventStore))
	}

	switch c.ViewStore {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite view store needs BANK_SQLITE_PATH"))
		}
	case StoreBadger:
		if c.BadgerPath == "" {
			errs = append(errs, errors.New("badger view store needs BANK_BADGER_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown view store %q", c.ViewStore))
	}

	if c.CommandShards < 0 {
		errs = append(errs, fmt.Errorf("command shards must not be negative, got %d", c.CommandShards))
	}
	if c.CommandShards > 0 && c.CommandBuffer <= 0 {
		errs = append(errs, fmt.Errorf("command buffer must be positive, got %d", c.CommandBuffer))
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if !slices.Contains([]string{"text", "json"}, c.LogFormat) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}
