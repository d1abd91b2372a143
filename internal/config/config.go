// Package config handles loading, defaulting, and validation of huginn
// configuration. The CLI layer merges file, environment, and flag values
// before handing the engine an already-validated configuration object.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	minConcurrency = 1
	maxConcurrency = 1000
)

// Config represents the complete huginn configuration.
type Config struct {
	// Scan configuration
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScanConfig holds everything the dispatcher needs for one scan run.
type ScanConfig struct {
	// Targets to scan: IP literals, [hostnames], ranges ("A-B"), CIDR blocks
	Targets []string `yaml:"targets" json:"targets"`

	// Exclusions dropped after target expansion
	Exclusions []string `yaml:"exclusions" json:"exclusions"`

	// Requested probe types (ping, tcp_connect, tcp_syn, udp)
	ProbeTypes []string `yaml:"probe_types" json:"probe_types" validate:"min=1"`

	// Ports specifies which ports to probe (e.g., "22,80,443" or "1-1000")
	Ports string `yaml:"ports" json:"ports"`

	// Concurrency bounds how many probe requests execute simultaneously
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"min=1,max=1000"`

	// ProbeTimeout is the ceiling for one probe request
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// Retries bounds re-attempts for transient network failures
	Retries int `yaml:"retries" json:"retries" validate:"min=0,max=10"`

	// Retry backoff configuration
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Rate limiting of outbound network operations
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// GracePeriod bounds how long in-flight probes may run after cancellation
	GracePeriod time.Duration `yaml:"grace_period" json:"grace_period"`

	// StrictTargets aborts expansion on the first malformed target element;
	// when false, malformed elements are skipped with a warning
	StrictTargets bool `yaml:"strict_targets" json:"strict_targets"`

	// BannerGrab enables a bounded single read after a TCP connect succeeds
	BannerGrab bool `yaml:"banner_grab" json:"banner_grab"`

	// PortConcurrency bounds concurrent port probes within one target
	PortConcurrency int `yaml:"port_concurrency" json:"port_concurrency" validate:"min=1,max=256"`
}

// RetryConfig holds backoff settings for retried probe requests.
type RetryConfig struct {
	// Base delay before the first retry
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// Exponential backoff multiplier
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`

	// Cap on the delay between retries
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// RateLimitConfig holds outbound rate limiting settings.
type RateLimitConfig struct {
	// Operations per second across all probes; 0 disables limiting
	OpsPerSecond float64 `yaml:"ops_per_second" json:"ops_per_second"`

	// Burst size for the token bucket
	Burst int `yaml:"burst" json:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			ProbeTypes:   []string{"ping"},
			Ports:        "22,80,443,8080,8443",
			Concurrency:  10,
			ProbeTimeout: 10 * time.Second,
			Retries:      2,
			Retry: RetryConfig{
				BaseDelay:         200 * time.Millisecond,
				BackoffMultiplier: 2.0,
				MaxDelay:          5 * time.Second,
			},
			RateLimit: RateLimitConfig{
				OpsPerSecond: 100,
				Burst:        200,
			},
			GracePeriod:     2 * time.Second,
			StrictTargets:   true,
			BannerGrab:      false,
			PortConcurrency: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file, layered over defaults. A missing
// file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := filepath.Ext(path)
	switch ext {
	case ".yaml", ".yml", ".json":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config (assumed YAML): %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Scan.Concurrency < minConcurrency || c.Scan.Concurrency > maxConcurrency {
		return fmt.Errorf("concurrency must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, c.Scan.Concurrency)
	}
	if len(c.Scan.ProbeTypes) == 0 {
		return fmt.Errorf("at least one probe type is required")
	}
	if c.Scan.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	if c.Scan.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1")
	}
	if c.Scan.RateLimit.OpsPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Scan.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive")
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	return nil
}
