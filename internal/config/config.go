package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bidi-intercept configuration file.
type Config struct {
	Version string `yaml:"version"`

	Log struct {
		Level      string   `yaml:"level"`
		Writer     []string `yaml:"writer"` // "console" and/or "file"
		File       string   `yaml:"file"`
		MaxSizeMB  int      `yaml:"max_size_mb"`
		MaxBackups int      `yaml:"max_backups"`
	} `yaml:"log"`

	Session struct {
		URL            string        `yaml:"url"`
		CommandTimeout time.Duration `yaml:"command_timeout"`
	} `yaml:"session"`

	Network struct {
		HandlerTimeout time.Duration `yaml:"handler_timeout"`
		Contexts       []string      `yaml:"contexts"`
	} `yaml:"network"`

	Journal struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
	} `yaml:"journal"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"console"}
	cfg.Log.File = "bidi-intercept.log"
	cfg.Log.MaxSizeMB = 50
	cfg.Log.MaxBackups = 3
	cfg.Session.CommandTimeout = 30 * time.Second
	cfg.Network.HandlerTimeout = 3 * time.Second
	cfg.Journal.DSN = "bidi-journal.sqlite3"
	return cfg
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the defaults cannot repair.
func (c *Config) Validate() error {
	for _, w := range c.Log.Writer {
		if w != "console" && w != "file" {
			return fmt.Errorf("log.writer: unknown writer %q", w)
		}
	}
	if c.Session.CommandTimeout < 0 {
		return fmt.Errorf("session.command_timeout must not be negative")
	}
	if c.Network.HandlerTimeout < 0 {
		return fmt.Errorf("network.handler_timeout must not be negative")
	}
	if c.Journal.Enabled && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required when the journal is enabled")
	}
	return nil
}
