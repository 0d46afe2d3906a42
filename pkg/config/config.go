package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lockboxhq/lockbox/pkg/api"
	"github.com/lockboxhq/lockbox/pkg/vault/store"
)

// Config represents the Lockbox server configuration.
//
// This structure captures the static configuration of the Lockbox server:
//   - Logging configuration
//   - Server settings (shutdown timeout, metrics, API)
//   - Database connection (control plane persistence)
//   - AWS client settings (region, account, optional endpoint override)
//   - Authentication, key lifecycle, and sweeper tuning
//
// Boxes, grants, and key records are managed through the REST API and
// stored in the control plane database.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (LOCKBOX_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the control plane database (SQLite or PostgreSQL).
	// This is the persistent store for boxes, grants, and key records.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains REST API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// AWS configures the KMS and IAM clients.
	AWS AWSConfig `mapstructure:"aws" yaml:"aws"`

	// Authn tunes IAM principal authentication.
	Authn AuthnConfig `mapstructure:"authn" yaml:"authn"`

	// Lifecycle tunes key and role provisioning.
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`

	// Sweeper tunes the background reconciliation sweeper.
	Sweeper SweeperConfig `mapstructure:"sweeper" yaml:"sweeper"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead) and the
// /metrics endpoint is not mounted.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// AWSConfig configures the KMS and IAM clients.
type AWSConfig struct {
	// Region is the AWS region keys and roles are provisioned in.
	// Default: us-east-1
	Region string `mapstructure:"region" validate:"required" yaml:"region"`

	// AccountID is the AWS account that owns the provisioned resources.
	// Required to start the server; checked at startup rather than here so
	// that offline commands (init, token) work without it.
	AccountID string `mapstructure:"account_id" yaml:"account_id"`

	// Endpoint overrides the AWS endpoint, for LocalStack or testing.
	// Empty means the real AWS endpoints.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// AuthnConfig tunes IAM principal authentication.
type AuthnConfig struct {
	// TTL is the lifetime of issued credentials.
	// Default: 1h
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// MaxVerifyRetries is how many times a transiently failing identity
	// verification is retried after the initial attempt.
	// Default: 3
	MaxVerifyRetries int `mapstructure:"max_verify_retries" validate:"omitempty,min=0" yaml:"max_verify_retries"`
}

// LifecycleConfig tunes key and role provisioning.
type LifecycleConfig struct {
	// RoleNamePrefix is prepended to generated role names.
	// Default: "lockbox-"
	RoleNamePrefix string `mapstructure:"role_name_prefix" yaml:"role_name_prefix"`

	// PendingWindowDays is the KMS deletion waiting period requested when
	// the sweeper schedules a key deletion. AWS enforces 7 to 30 days.
	// Default: 7
	PendingWindowDays int `mapstructure:"pending_window_days" validate:"omitempty,min=7,max=30" yaml:"pending_window_days"`
}

// SweeperConfig tunes the background reconciliation sweeper.
type SweeperConfig struct {
	// ThresholdDays is how long a record must have been detached before
	// its key deletion is scheduled.
	// Default: 30
	ThresholdDays int `mapstructure:"threshold_days" validate:"omitempty,min=0" yaml:"threshold_days"`

	// Parallelism bounds how many records are processed concurrently.
	// Default: 4
	Parallelism int `mapstructure:"parallelism" validate:"omitempty,min=1" yaml:"parallelism"`

	// Interval is how often the background sweep runs.
	// Zero disables the background loop (the cleanup endpoint still works).
	// Default: 1h
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (LOCKBOX_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  lockbox init\n\n"+
				"Or specify a custom config file:\n"+
				"  lockbox <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  lockbox init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config files may contain the JWT secret and database passwords,
	// so keep them owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use LOCKBOX_ prefix and underscores
	// Example: LOCKBOX_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("LOCKBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/lockbox/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "lockbox")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "lockbox")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
