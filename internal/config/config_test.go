package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"HTTP_ADDR":           ":9090",
		"LEDGER_STORE_DRIVER": "postgres",
		"LEDGER_STORE_DSN":    "postgres://ledger@localhost/ledger",
		"REDIS_ADDR":          "localhost:6379",
		"LEDGER_WORKERS":      "4",
		"LOG_LEVEL":           "debug",
	}
	c := Default()
	if err := c.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.HTTPAddr != ":9090" || c.Store.Driver != "postgres" || c.Redis.Addr != "localhost:6379" || c.Workers != 4 {
		t.Errorf("env not applied: %+v", c)
	}
	if c.GRPCAddr != ":50051" {
		t.Errorf("unset keys must keep defaults, got %s", c.GRPCAddr)
	}
	if l, _ := c.Level(); l != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", l)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	c := Default()
	err := c.applyEnv(func(k string) string {
		if k == "LEDGER_QUEUE_SIZE" {
			return "lots"
		}
		return ""
	})
	if err == nil {
		t.Error("expected error for non-numeric queue size")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Store.Driver = "oracle" }},
		{"dsn", func(c *Config) { c.Store.DSN = "" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"queue", func(c *Config) { c.QueueSize = 0 }},
		{"retries", func(c *Config) { c.MaxRetries = -1 }},
		{"level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	doc := `
http_addr: ":7070"
store:
  driver: mysql
  dsn: "root:root@tcp(localhost:3306)/ledger"
redis:
  addr: "cache:6379"
  lock_ttl: 3s
workers: 2
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	for _, key := range []string{"HTTP_ADDR", "REDIS_ADDR", "LEDGER_STORE_DRIVER", "LEDGER_STORE_DSN", "LEDGER_QUEUE_SIZE"} {
		t.Setenv(key, "")
	}
	t.Setenv("LEDGER_CONFIG", path)
	t.Setenv("LEDGER_WORKERS", "6")

	c, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.HTTPAddr != ":7070" || c.Store.Driver != "mysql" || c.Redis.Addr != "cache:6379" {
		t.Errorf("file not applied: %+v", c)
	}
	if c.Redis.LockTTL != 3*time.Second {
		t.Errorf("expected 3s lock ttl, got %v", c.Redis.LockTTL)
	}
	if c.Workers != 6 {
		t.Errorf("env must win over file, got %d workers", c.Workers)
	}
	if c.QueueSize != Default().QueueSize {
		t.Errorf("missing keys must keep defaults, got %d", c.QueueSize)
	}
}
