// Package config loads service configuration from an optional YAML file
// followed by environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Store struct {
		Backend     string        `yaml:"backend"`
		DatabaseURL string        `yaml:"database_url"`
		RedisURL    string        `yaml:"redis_url"`
		SQLitePath  string        `yaml:"sqlite_path"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
		Namespace   string        `yaml:"namespace"`
	} `yaml:"store"`

	Wallet struct {
		InitialBalance decimal.Decimal `yaml:"initial_balance"`
		DefaultUserID  string          `yaml:"default_user_id"`
	} `yaml:"wallet"`

	Feed struct {
		URL          string        `yaml:"url"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Disabled     bool          `yaml:"disabled"`
	} `yaml:"feed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Port:     "8080",
		LogLevel: "info",
	}
	cfg.Store.Backend = BackendMemory
	cfg.Store.SQLitePath = "data/wallet.db"
	cfg.Store.CacheTTL = 30 * time.Second
	cfg.Store.Namespace = "polypredict"
	cfg.Wallet.InitialBalance = decimal.NewFromInt(1000)
	cfg.Feed.URL = "https://gamma-api.polymarket.com"
	cfg.Feed.PollInterval = 30 * time.Second
	return cfg
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.RedisURL = getEnv("REDIS_URL", c.Store.RedisURL)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.CacheTTL = getEnvDuration("CACHE_TTL", c.Store.CacheTTL)
	c.Store.Namespace = getEnv("APP_NAMESPACE", c.Store.Namespace)

	c.Wallet.InitialBalance = getEnvDecimal("INITIAL_BALANCE", c.Wallet.InitialBalance)
	c.Wallet.DefaultUserID = getEnv("DEFAULT_USER_ID", c.Wallet.DefaultUserID)

	c.Feed.URL = getEnv("QUOTE_FEED_URL", c.Feed.URL)
	c.Feed.PollInterval = getEnvDuration("QUOTE_POLL_INTERVAL", c.Feed.PollInterval)
	c.Feed.Disabled = getEnvBool("QUOTE_FEED_DISABLED", c.Feed.Disabled)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("config: postgres backend requires DATABASE_URL")
		}
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return errors.New("config: redis backend requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if !c.Wallet.InitialBalance.IsPositive() {
		return fmt.Errorf("config: initial balance must be positive, got %s", c.Wallet.InitialBalance)
	}
	if c.Store.Namespace == "" {
		return errors.New("config: namespace must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return fallback
}
