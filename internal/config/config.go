// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`

	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		PoolSize int           `yaml:"pool_size"`
		LockTTL  time.Duration `yaml:"lock_ttl"`
	} `yaml:"redis"`

	Catalog string `yaml:"catalog"`

	Workers    int `yaml:"workers"`
	QueueSize  int `yaml:"queue_size"`
	MaxRetries int `yaml:"max_retries"`
}

func Default() Config {
	var c Config
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.LogLevel = "info"
	c.Store.Driver = "sqlite"
	c.Store.DSN = "file:partledger.db"
	c.Redis.PoolSize = 100
	c.Redis.LockTTL = 10 * time.Second
	c.Workers = 10
	c.QueueSize = 10000
	c.MaxRetries = 3
	return c
}

// Load reads the file named by LEDGER_CONFIG, if any, then applies env overrides.
func Load() (Config, error) {
	c := Default()
	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LEDGER_STORE_DRIVER", &c.Store.Driver)
	str("LEDGER_STORE_DSN", &c.Store.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("LEDGER_CATALOG", &c.Catalog)
	if err := num("LEDGER_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := num("LEDGER_QUEUE_SIZE", &c.QueueSize); err != nil {
		return err
	}
	return num("LEDGER_MAX_RETRIES", &c.MaxRetries)
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case "mysql", "postgres", "postgresql", "pgx", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("config: store dsn is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("config: queue_size must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}
