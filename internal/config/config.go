// Package config loads server configuration from the environment
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full server configuration. Every field maps to a
// PBAC_-prefixed environment variable.
type Config struct {
	HTTPPort  int    `envconfig:"HTTP_PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// StoreDriver selects the persistence backend: memory or postgres
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	// CacheBackend selects the evaluation cache: memory, redis, or off
	CacheBackend  string        `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheSize     int           `envconfig:"CACHE_SIZE" default:"100000"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string        `envconfig:"REDIS_PREFIX" default:"pbac:"`

	Workers int `envconfig:"WORKERS" default:"16"`

	// SeedDir, when set, is applied at startup; SeedWatch re-applies
	// it on change
	SeedDir   string `envconfig:"SEED_DIR"`
	SeedWatch bool   `envconfig:"SEED_WATCH" default:"false"`

	AuditEnabled    bool   `envconfig:"AUDIT_ENABLED" default:"true"`
	AuditOutput     string `envconfig:"AUDIT_OUTPUT" default:"stdout"`
	AuditFilePath   string `envconfig:"AUDIT_FILE_PATH"`
	AuditFileSizeMB int    `envconfig:"AUDIT_FILE_SIZE_MB" default:"100"`

	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads the configuration from PBAC_-prefixed environment
// variables and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("pbac", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: postgres store requires PBAC_DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}

	switch c.CacheBackend {
	case "memory", "redis", "off":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.CacheBackend)
	}

	if c.AuditEnabled && c.AuditOutput == "file" && c.AuditFilePath == "" {
		return fmt.Errorf("config: file audit output requires PBAC_AUDIT_FILE_PATH")
	}

	return nil
}
