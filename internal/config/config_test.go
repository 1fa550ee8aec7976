package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Store.Backend != config.BackendMemory {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.Wallet.InitialBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected initial balance 1000, got %s", cfg.Wallet.InitialBalance)
	}
	if cfg.Store.Namespace != "polypredict" {
		t.Errorf("expected namespace polypredict, got %q", cfg.Store.Namespace)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
port: "9090"
store:
  backend: sqlite
  sqlite_path: /tmp/w.db
  cache_ttl: 1m
wallet:
  initial_balance: 250.5
feed:
  poll_interval: 10s
`)
	t.Setenv("PORT", "7070")
	t.Setenv("QUOTE_POLL_INTERVAL", "5s")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("env should override port, got %s", cfg.Port)
	}
	if cfg.Store.Backend != config.BackendSQLite || cfg.Store.SQLitePath != "/tmp/w.db" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if cfg.Store.CacheTTL != time.Minute {
		t.Errorf("expected cache ttl 1m, got %s", cfg.Store.CacheTTL)
	}
	if !cfg.Wallet.InitialBalance.Equal(decimal.NewFromFloat(250.5)) {
		t.Errorf("expected 250.5, got %s", cfg.Wallet.InitialBalance)
	}
	if cfg.Feed.PollInterval != 5*time.Second {
		t.Errorf("expected env poll interval 5s, got %s", cfg.Feed.PollInterval)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "mongo"}},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}},
		{"redis without url", map[string]string{"STORE_BACKEND": "redis"}},
		{"zero balance", map[string]string{"INITIAL_BALANCE": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := config.Load(""); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
