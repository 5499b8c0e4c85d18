// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from
// switchboard.yaml.
type Config struct {
	Owner              string          `yaml:"owner"`
	Database           DatabaseConfig  `yaml:"database"`
	EncryptionKey      string          `yaml:"encryption_key"` // 64 hex chars; generated per-process if empty
	SessionDir         string          `yaml:"session_dir"`
	Broadcast          BroadcastConfig `yaml:"broadcast"`
	Reconcile          ReconcileConfig `yaml:"reconcile"`
	GracefulTimeoutSec int             `yaml:"graceful_timeout_sec"`
	Agents             []AgentConfig   `yaml:"agents"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// BroadcastConfig holds settings for the agent event stream HTTP server.
type BroadcastConfig struct {
	Port int `yaml:"port"`
}

// ReconcileConfig controls the periodic reconnect sweep.
type ReconcileConfig struct {
	Cron string `yaml:"cron"` // 5-field cron expression; empty disables the sweep
}

// AgentConfig declares a tenant agent seeded at startup.
type AgentConfig struct {
	ID   string `yaml:"id"` // optional; generated when empty
	Name string `yaml:"name"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" && c.Owner != "" {
		c.Database.Database = "switchboard_" + c.Owner
	}
	if c.SessionDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.SessionDir = filepath.Join(home, ".switchboard", "sessions")
		}
	}
	if c.Broadcast.Port == 0 {
		c.Broadcast.Port = 8090
	}
	if c.GracefulTimeoutSec == 0 {
		c.GracefulTimeoutSec = 10
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Owner == "" {
		errs = append(errs, "owner is required")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		errs = append(errs, "encryption_key must be 64 hex characters (32 bytes)")
	}
	for i, a := range c.Agents {
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].name is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
