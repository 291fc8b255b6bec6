// Package config provides configuration loading and management for hipmetrics.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers bounds how many studies are analysed concurrently
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Metric profiles
	Profiles struct {
		// Path is an optional YAML profile table loaded on top of the built-in profiles
		Path string `yaml:"path"`
	} `yaml:"profiles"`

	// Report store
	Store struct {
		// Path of the SQLite database; empty disables persistence
		Path string `yaml:"path"`

		// BaseURL prefixes the study display URLs
		BaseURL string `yaml:"baseURL"`
	} `yaml:"store"`

	// Output parameters
	Output struct {
		// Dir receives one JSON report per study
		Dir string `yaml:"dir"`

		// Pretty indents the JSON reports
		Pretty bool `yaml:"pretty"`
	} `yaml:"output"`

	Logging struct {
		// Mode is "dev" for readable debug output or "prod" for JSON at info level
		Mode string `yaml:"mode"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()

	cfg.Store.Path = "hipmetrics.db"
	cfg.Store.BaseURL = "http://localhost:8000"

	cfg.Output.Dir = "reports"
	cfg.Output.Pretty = true

	cfg.Logging.Mode = "dev"

	return cfg
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	switch c.Logging.Mode {
	case "dev", "prod":
	default:
		return fmt.Errorf("logging.mode must be dev or prod, got %q", c.Logging.Mode)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
