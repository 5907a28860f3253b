package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	file := strings.Join([]string{
		"http_addr: \":9000\"",
		"event_store: sqlite",
		"sqlite_path: /tmp/events.db",
		"view_store: badger",
		"retry_attempts: 7",
	}, "\n")
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BANK_RETRY_ATTEMPTS", "2")
	t.Setenv("BANK_ASYNC_PROJECTIONS", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.EventStore != StoreSQLite || cfg.SQLitePath != "/tmp/events.db" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ViewStore != StoreBadger || cfg.BadgerPath != "bank-views" {
		t.Fatalf("expected badger with default path, got %+v", cfg)
	}
	if cfg.RetryAttempts != 2 {
		t.Fatalf("expected env retry attempts 2, got %d", cfg.RetryAttempts)
	}
	if !cfg.AsyncProjections {
		t.Fatal("expected async projections from env")
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		if err == nil || !strings.Contains(err.Error(), "read config file") {
			t.Fatalf("expected read error, got %v", err)
		}
	})

	t.Run("bad env", func(t *testing.T) {
		t.Setenv("BANK_COMMAND_SHARDS", "many")
		_, err := Load("")
		if err == nil || !strings.Contains(err.Error(), "parse env:") {
			t.Fatalf("expected parse env error, got %v", err)
		}
	})

	t.Run("invalid combination", func(t *testing.T) {
		t.Setenv("BANK_EVENT_STORE", "kurrentdb")
		_, err := Load("")
		if err == nil || !strings.Contains(err.Error(), "BANK_KURRENTDB_URL") {
			t.Fatalf("expected kurrentdb url error, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown event store", mutate: func(c *Config) { c.EventStore = "postgres" }, wantErr: `unknown event store "postgres"`},
		{name: "unknown view store", mutate: func(c *Config) { c.ViewStore = "redis" }, wantErr: `unknown view store "redis"`},
		{name: "sqlite without path", mutate: func(c *Config) { c.ViewStore = StoreSQLite; c.SQLitePath = "" }, wantErr: "BANK_SQLITE_PATH"},
		{name: "badger without path", mutate: func(c *Config) { c.ViewStore = StoreBadger; c.BadgerPath = "" }, wantErr: "BANK_BADGER_PATH"},
		{name: "negative shards", mutate: func(c *Config) { c.CommandShards = -1 }, wantErr: "command shards"},
		{name: "shards without buffer", mutate: func(c *Config) { c.CommandShards = 4; c.CommandBuffer = 0 }, wantErr: "command buffer"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log level"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: `unknown log format "xml"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
