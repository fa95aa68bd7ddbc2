// Package config loads daemon configuration from an optional YAML file
// with environment-variable overrides. Secrets (API key, TOTP secret)
// come from the environment only, optionally via a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Stream struct {
		URL            string        `yaml:"url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`

		// Credentials, env only: BROKER_API_KEY or the TOTP login set
		// (BROKER_CLIENT_CODE, BROKER_PASSWORD, BROKER_TOTP_SECRET).
		APIKey     string `yaml:"-"`
		ClientCode string `yaml:"-"`
		Password   string `yaml:"-"`
		TOTPSecret string `yaml:"-"`
		LoginURL   string `yaml:"login_url"`
	} `yaml:"stream"`

	Storage struct {
		Backend    string `yaml:"backend"` // "memory" | "sqlite" | "redis"
		SQLitePath string `yaml:"sqlite_path"`
		RedisAddr  string `yaml:"redis_addr"`
		RedisDB    int    `yaml:"redis_db"`

		RedisPassword string `yaml:"-"` // env only: REDIS_PASSWORD
	} `yaml:"storage"`

	Alerts struct {
		Retention     time.Duration `yaml:"retention"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"alerts"`

	Cache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	API struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"api"`

	MetricsAddr string `yaml:"metrics_addr"`

	Notify struct {
		WebhookURL string `yaml:"webhook_url"`

		// Env only: TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID.
		TelegramToken  string `yaml:"-"`
		TelegramChatID string `yaml:"-"`
	} `yaml:"notify"`
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist), then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.LogLevel = "info"
	cfg.Stream.URL = "wss://stream.example.test/ws"
	cfg.Stream.ReconnectDelay = 2 * time.Second
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLitePath = "data/alerts.db"
	cfg.Storage.RedisAddr = "localhost:6379"
	cfg.Alerts.Retention = 24 * time.Hour
	cfg.Alerts.SweepInterval = time.Hour
	cfg.Cache.TTL = 30 * time.Second
	cfg.API.Addr = ":8080"
	cfg.MetricsAddr = ":9090"
	return cfg
}

func applyEnv(cfg *Config) {
	setEnv(&cfg.LogLevel, "LOG_LEVEL")
	setEnv(&cfg.LogFile, "LOG_FILE")

	setEnv(&cfg.Stream.URL, "STREAM_URL")
	cfg.Stream.APIKey = os.Getenv("BROKER_API_KEY")
	cfg.Stream.ClientCode = os.Getenv("BROKER_CLIENT_CODE")
	cfg.Stream.Password = os.Getenv("BROKER_PASSWORD")
	cfg.Stream.TOTPSecret = os.Getenv("BROKER_TOTP_SECRET")
	setEnv(&cfg.Stream.LoginURL, "BROKER_LOGIN_URL")

	setEnv(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setEnv(&cfg.Storage.SQLitePath, "SQLITE_PATH")
	setEnv(&cfg.Storage.RedisAddr, "REDIS_ADDR")
	cfg.Storage.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.RedisDB = n
		}
	}

	setEnv(&cfg.API.Addr, "API_ADDR")
	setEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	setEnv(&cfg.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	cfg.Notify.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Notify.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks cross-field constraints before startup.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Stream.APIKey == "" && c.Stream.TOTPSecret == "" {
		return fmt.Errorf("config: either BROKER_API_KEY or the TOTP login set must be provided")
	}
	return nil
}
