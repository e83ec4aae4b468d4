// Package config loads service configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML file,
// environment variables. Environment variables only override a field when
// they are actually set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Webhook WebhookConfig `yaml:"webhook"`
	Session SessionConfig `yaml:"session"`
	Media   MediaConfig   `yaml:"media"`
	Log     LogConfig     `yaml:"log"`
}

// GatewayConfig controls the HTTP API.
type GatewayConfig struct {
	Host   string `yaml:"host" env:"HOST"`
	Port   int    `yaml:"port" env:"PORT"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

// WebhookConfig points at the downstream automation endpoint.
type WebhookConfig struct {
	URL     string        `yaml:"url" env:"WEBHOOK_URL"`
	Timeout time.Duration `yaml:"timeout" env:"WEBHOOK_TIMEOUT"`
}

// SessionConfig controls the chat transport session.
type SessionConfig struct {
	// Dir holds the transport's credential store.
	Dir     string `yaml:"dir" env:"SESSION_DIR"`
	PrintQR bool   `yaml:"print_qr" env:"PRINT_QR"`

	WatchdogPollInterval  time.Duration `yaml:"watchdog_poll_interval" env:"WATCHDOG_POLL_INTERVAL"`
	WatchdogEscalateAfter time.Duration `yaml:"watchdog_escalate_after" env:"WATCHDOG_ESCALATE_AFTER"`

	// PairingRetryDelay is the pause before requesting fresh pairing codes.
	PairingRetryDelay time.Duration `yaml:"pairing_retry_delay" env:"PAIRING_RETRY_DELAY"`
}

// MediaConfig controls media downloads for outbound documents.
type MediaConfig struct {
	// FetchTimeout of zero means no client-side limit.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"MEDIA_FETCH_TIMEOUT"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Dir:                   "./sessions",
			PrintQR:               true,
			WatchdogPollInterval:  10 * time.Second,
			WatchdogEscalateAfter: 40 * time.Second,
			PairingRetryDelay:     2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the service relies on.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port %d out of range", c.Gateway.Port)
	}
	if c.Session.WatchdogPollInterval <= 0 {
		return fmt.Errorf("watchdog poll interval must be positive")
	}
	if c.Session.WatchdogEscalateAfter < c.Session.WatchdogPollInterval {
		return fmt.Errorf("watchdog escalation (%s) must not be shorter than the poll interval (%s)",
			c.Session.WatchdogEscalateAfter, c.Session.WatchdogPollInterval)
	}
	if c.Session.Dir == "" {
		return fmt.Errorf("session dir is required")
	}
	return nil
}

// SessionStorePath is the sqlite file the transport keeps its device keys in.
func (c *Config) SessionStorePath() string {
	return filepath.Join(c.Session.Dir, "session.db")
}

// Addr is the listen address of the HTTP API.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
