package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/internal/errors"
	"gopkg.in/yaml.v2"
)

// Config represents the main configuration structure
type Config struct {
	Controller ControllerConfig  `yaml:"controller"`
	Admin      AdminConfig       `yaml:"admin"`
	Backends   domain.BackendMap `yaml:"backends"`
	StatusAPI  StatusAPIConfig   `yaml:"status_api"`
	EventLog   EventLogConfig    `yaml:"event_log"`
	Logging    LoggingConfig     `yaml:"logging"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// ControllerConfig contains the tick loop and hysteresis configuration
type ControllerConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	TripHigh      float64       `yaml:"trip_high"`
	TripLow       float64       `yaml:"trip_low"`
	DryRun        bool          `yaml:"dry_run"`
}

// AdminConfig contains the load balancer runtime control channel configuration
type AdminConfig struct {
	Network string        `yaml:"network"` // tcp or unix
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

// StatusAPIConfig contains the read-only operational HTTP surface configuration
type StatusAPIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Port      int             `yaml:"port"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains bearer token authentication configuration
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretKey string `yaml:"secret_key"`
}

// RateLimitConfig contains rate limiting configuration for the status API
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// EventLogConfig contains the append-only event log configuration
type EventLogConfig struct {
	File        string `yaml:"file"` // optional JSONL file, empty disables
	HistorySize int    `yaml:"history_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
// The 20-point gap between trip_high and trip_low mirrors the deployment this
// controller was extracted from; both values are independent configuration.
func DefaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			CheckInterval: 10 * time.Second,
			TripHigh:      85,
			TripLow:       65,
			DryRun:        false,
		},
		Admin: AdminConfig{
			Network: "tcp",
			Address: "127.0.0.1:9999",
			Timeout: 5 * time.Second,
		},
		Backends: domain.BackendMap{
			Pool:    "webdb",
			Primary: "primarydb",
			Backup:  "backupdb",
		},
		StatusAPI: StatusAPIConfig{
			Enabled: true,
			Port:    8404,
			Auth: AuthConfig{
				Enabled: false,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
		},
		EventLog: EventLogConfig{
			File:        "",
			HistorySize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from the optional file path merged over
// defaults, then applies environment variable overrides and validates
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("failed to read config file %s: %v", path, err))
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("failed to parse config file %s: %v", path, err))
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overrides configuration from FC_* environment variables. A value
// that does not parse is a fatal configuration error, never a silent fallback
// to a default the operator did not choose.
func (c *Config) applyEnv() error {
	if v := os.Getenv("FC_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("invalid FC_CHECK_INTERVAL %q: %v", v, err))
		}
		c.Controller.CheckInterval = d
	}
	if v := os.Getenv("FC_TRIP_HIGH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("invalid FC_TRIP_HIGH %q: %v", v, err))
		}
		c.Controller.TripHigh = f
	}
	if v := os.Getenv("FC_TRIP_LOW"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("invalid FC_TRIP_LOW %q: %v", v, err))
		}
		c.Controller.TripLow = f
	}
	if v := os.Getenv("FC_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("invalid FC_DRY_RUN %q: %v", v, err))
		}
		c.Controller.DryRun = b
	}
	if v := os.Getenv("FC_ADMIN_NETWORK"); v != "" {
		c.Admin.Network = v
	}
	if v := os.Getenv("FC_ADMIN_ADDRESS"); v != "" {
		c.Admin.Address = v
	}
	if v := os.Getenv("FC_ADMIN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("invalid FC_ADMIN_TIMEOUT %q: %v", v, err))
		}
		c.Admin.Timeout = d
	}
	if v := os.Getenv("FC_POOL"); v != "" {
		c.Backends.Pool = v
	}
	if v := os.Getenv("FC_PRIMARY_BACKEND"); v != "" {
		c.Backends.Primary = v
	}
	if v := os.Getenv("FC_BACKUP_BACKEND"); v != "" {
		c.Backends.Backup = v
	}
	if v := os.Getenv("FC_STATUS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("invalid FC_STATUS_PORT %q: %v", v, err))
		}
		c.StatusAPI.Port = p
	}
	if v := os.Getenv("FC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Thresholds returns the hysteresis band as a domain value
func (c *Config) Thresholds() domain.Thresholds {
	return domain.Thresholds{
		TripHigh: c.Controller.TripHigh,
		TripLow:  c.Controller.TripLow,
	}
}

// Validate validates the configuration for correctness. Violations are fatal
// startup errors; the controller never enters the tick loop with a bad config.
func (c *Config) Validate() error {
	if err := c.Thresholds().Validate(); err != nil {
		return errors.NewConfigError(err.Error())
	}

	if c.Controller.CheckInterval <= 0 {
		return errors.NewConfigError(fmt.Sprintf("check_interval must be positive: %v", c.Controller.CheckInterval))
	}

	switch c.Admin.Network {
	case "tcp", "unix":
		// Valid networks
	default:
		return errors.NewConfigError(fmt.Sprintf("unsupported admin network: %s", c.Admin.Network))
	}

	if c.Admin.Address == "" {
		return errors.NewConfigError("admin address cannot be empty")
	}

	if c.Admin.Timeout <= 0 {
		return errors.NewConfigError(fmt.Sprintf("admin timeout must be positive: %v", c.Admin.Timeout))
	}

	if c.Backends.Pool == "" {
		return errors.NewConfigError("backends.pool cannot be empty")
	}
	if c.Backends.Primary == "" {
		return errors.NewConfigError("backends.primary cannot be empty")
	}
	if c.Backends.Backup == "" {
		return errors.NewConfigError("backends.backup cannot be empty")
	}
	if c.Backends.Primary == c.Backends.Backup {
		return errors.NewConfigError("backends.primary and backends.backup must name different servers")
	}

	if c.StatusAPI.Enabled {
		if c.StatusAPI.Port <= 0 || c.StatusAPI.Port > 65535 {
			return errors.NewConfigError(fmt.Sprintf("invalid status API port: %d", c.StatusAPI.Port))
		}
		if c.StatusAPI.Auth.Enabled && c.StatusAPI.Auth.SecretKey == "" {
			return errors.NewConfigError("status API auth enabled but secret_key is empty")
		}
		if c.StatusAPI.RateLimit.Enabled {
			if c.StatusAPI.RateLimit.RequestsPerSecond <= 0 {
				return errors.NewConfigError("rate_limit.requests_per_second must be positive")
			}
			if c.StatusAPI.RateLimit.BurstSize <= 0 {
				return errors.NewConfigError("rate_limit.burst_size must be positive")
			}
		}
	}

	if c.EventLog.HistorySize <= 0 {
		return errors.NewConfigError(fmt.Sprintf("event_log.history_size must be positive: %d", c.EventLog.HistorySize))
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return errors.NewConfigError(fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return errors.NewConfigError(fmt.Sprintf("invalid log format: %s", c.Logging.Format))
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return errors.NewConfigError(fmt.Sprintf("invalid log output: %s", c.Logging.Output))
	}

	return nil
}

// Warnings returns non-fatal configuration advisories
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Admin.Timeout > c.Controller.CheckInterval {
		warnings = append(warnings, fmt.Sprintf(
			"admin timeout (%v) exceeds check interval (%v); a stuck channel can delay ticks",
			c.Admin.Timeout, c.Controller.CheckInterval))
	}
	if gap := c.Controller.TripHigh - c.Controller.TripLow; gap < 15 {
		warnings = append(warnings, fmt.Sprintf(
			"hysteresis gap is only %.1f points; utilization near the band may still flap", gap))
	}
	return warnings
}
