package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend=%q, want sqlite default", cfg.Storage.Backend)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("cache ttl=%v, want 30s default", cfg.Cache.TTL)
	}
	if cfg.Alerts.Retention != 24*time.Hour {
		t.Errorf("retention=%v, want 24h default", cfg.Alerts.Retention)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
log_level: debug
storage:
  backend: redis
  redis_addr: redis:6379
cache:
  ttl: 10s
api:
  addr: ":9000"
  cors_origins: ["https://charts.example.com"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.RedisAddr != "redis:6379" {
		t.Errorf("storage=%+v", cfg.Storage)
	}
	if cfg.Cache.TTL != 10*time.Second {
		t.Errorf("cache ttl=%v, want 10s", cfg.Cache.TTL)
	}
	if len(cfg.API.CORSOrigins) != 1 {
		t.Errorf("cors origins=%v", cfg.API.CORSOrigins)
	}
	// Untouched keys keep defaults.
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("metrics addr=%q, want default", cfg.MetricsAddr)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("BROKER_API_KEY", "key-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level=%q, env should override file", cfg.LogLevel)
	}
	if cfg.Stream.APIKey != "key-from-env" {
		t.Errorf("api key=%q", cfg.Stream.APIKey)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.Stream.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Storage.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend accepted")
	}

	cfg = defaults()
	if err := cfg.Validate(); err == nil {
		t.Error("missing credentials accepted")
	}
}
