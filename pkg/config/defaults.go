package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	cfg.Catalog.ApplyDefaults()
	cfg.Store.ApplyDefaults()
	cfg.Breaker.ApplyDefaults()
	cfg.Limiter.ApplyDefaults()
	cfg.Syncer.ApplyDefaults()
	cfg.Auditor.ApplyDefaults()
	cfg.Server.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a configuration populated entirely with defaults.
//
// Used when no configuration file exists, and by the init command to write
// a starter config file.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)

	// The starter config points at a local MinIO so a fresh install has a
	// complete, editable example of every store field.
	if cfg.Store.Endpoint == "" {
		cfg.Store.Endpoint = "http://localhost:9000"
	}
	if cfg.Store.Bucket == "" {
		cfg.Store.Bucket = "vault"
	}
	if cfg.Store.AccessKeyID == "" {
		cfg.Store.AccessKeyID = "minioadmin"
	}
	if cfg.Store.SecretAccessKey == "" {
		cfg.Store.SecretAccessKey = "minioadmin"
	}
	cfg.Store.ForcePathStyle = true

	return cfg
}
