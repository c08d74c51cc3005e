// Package config loads the safmiles configuration file, by default
// safmiles.yaml in the working directory.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file read when no path is given.
const DefaultFile = "safmiles.yaml"

// Environment variables that override file values.
const (
	EnvScoringURL    = "SAFMILES_SCORING_URL"
	EnvWebhookURL    = "SAFMILES_WEBHOOK_URL"
	EnvWebhookSecret = "SAFMILES_WEBHOOK_SECRET"
	EnvPort          = "PORT"
)

// ScoringConfig locates the remote scoring service.
type ScoringConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig holds the session API listener settings.
type ServerConfig struct {
	Port    int  `yaml:"port"`
	Verbose bool `yaml:"verbose"`
}

// WebhookConfig controls claim acknowledgement delivery. An empty URL keeps
// events queued until one is set.
type WebhookConfig struct {
	URL         string        `yaml:"url"`
	Secret      string        `yaml:"secret,omitempty"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	AutoDeliver bool          `yaml:"auto_deliver"`
}

// SessionConfig controls idle session expiry.
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Config represents the contents of safmiles.yaml.
type Config struct {
	Scoring ScoringConfig `yaml:"scoring"`
	Server  ServerConfig  `yaml:"server"`
	Webhook WebhookConfig `yaml:"webhook"`
	Session SessionConfig `yaml:"session"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Scoring: ScoringConfig{
			URL:     "http://localhost:8000",
			Timeout: 10 * time.Second,
		},
		Server: ServerConfig{Port: 8080},
		Webhook: WebhookConfig{
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Session: SessionConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// Load reads the config at path, or DefaultFile when path is empty. A
// missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvScoringURL); v != "" {
		c.Scoring.URL = v
	}
	if v := os.Getenv(EnvWebhookURL); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		c.Webhook.Secret = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Scoring.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("scoring.url: %q is not an absolute URL", c.Scoring.URL)
	}
	if c.Scoring.Timeout <= 0 {
		return errors.New("scoring.timeout must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Webhook.URL != "" {
		if u, err := url.Parse(c.Webhook.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("webhook.url: %q is not an absolute URL", c.Webhook.URL)
		}
	}
	if c.Webhook.MaxRetries < 0 {
		return errors.New("webhook.max_retries must not be negative")
	}
	if c.Session.IdleTTL < 0 || c.Session.SweepInterval < 0 {
		return errors.New("session durations must not be negative")
	}
	return nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
