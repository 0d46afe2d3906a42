package config

import (
	"strings"
	"time"

	"github.com/lockboxhq/lockbox/pkg/api"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
	"github.com/lockboxhq/lockbox/pkg/vault/sweeper"
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
	cfg.Database.ApplyDefaults()
	applyAPIDefaults(&cfg.API)
	applyAWSDefaults(&cfg.AWS)
	applyAuthnDefaults(&cfg.Authn)
	applyLifecycleDefaults(&cfg.Lifecycle)
	applySweeperDefaults(&cfg.Sweeper)
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

// applyAPIDefaults sets API server defaults.
// The API is always enabled (mandatory for managing boxes).
func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.JWT.TokenDuration == 0 {
		cfg.JWT.TokenDuration = time.Hour
	}
}

// applyAWSDefaults sets AWS client defaults.
func applyAWSDefaults(cfg *AWSConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
}

// applyAuthnDefaults sets authentication defaults.
func applyAuthnDefaults(cfg *AuthnConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxVerifyRetries == 0 {
		cfg.MaxVerifyRetries = 3
	}
}

// applyLifecycleDefaults sets key lifecycle defaults.
func applyLifecycleDefaults(cfg *LifecycleConfig) {
	if cfg.RoleNamePrefix == "" {
		cfg.RoleNamePrefix = "lockbox-"
	}
	if cfg.PendingWindowDays == 0 {
		cfg.PendingWindowDays = 7
	}
}

// applySweeperDefaults sets reconciliation sweeper defaults.
func applySweeperDefaults(cfg *SweeperConfig) {
	if cfg.ThresholdDays == 0 {
		cfg.ThresholdDays = sweeper.DefaultThresholdDays
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 4
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
