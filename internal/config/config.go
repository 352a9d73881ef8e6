// Package config loads the policyc YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"policy-compiler/internal/utils"
)

const (
	DefaultAliasDriver = "sqlite"
	DefaultAliasDSN    = "aliases.db"
	DefaultLogLevel    = "INFO"

	DispatchPreview = "preview"
	DispatchLocal   = "local"
)

type CatalogConfig struct {
	Path  string `yaml:"path,omitempty"`
	Watch bool   `yaml:"watch,omitempty"`
}

type AliasConfig struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

type DispatchConfig struct {
	Mode string `yaml:"mode,omitempty"`
}

type Config struct {
	Catalog         CatalogConfig  `yaml:"catalog"`
	Aliases         AliasConfig    `yaml:"aliases"`
	Devices         []string       `yaml:"devices,omitempty"`
	PreferredTarget string         `yaml:"preferred_target,omitempty"`
	Log             LogConfig      `yaml:"log"`
	Metrics         MetricsConfig  `yaml:"metrics"`
	Dispatch        DispatchConfig `yaml:"dispatch"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Aliases.Driver == "" {
		c.Aliases.Driver = DefaultAliasDriver
	}
	if c.Aliases.DSN == "" && c.Aliases.Driver == DefaultAliasDriver {
		c.Aliases.DSN = DefaultAliasDSN
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchPreview
	}
}

// Parse reads a YAML configuration, fills defaults and validates it.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (c *Config) Validate() error {
	switch c.Aliases.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported alias driver %q (want mysql or sqlite)", c.Aliases.Driver)
	}
	if c.Aliases.DSN == "" {
		return fmt.Errorf("aliases.dsn is required for driver %q", c.Aliases.Driver)
	}
	switch c.Dispatch.Mode {
	case DispatchPreview, DispatchLocal:
	default:
		return fmt.Errorf("unsupported dispatch mode %q (want preview or local)", c.Dispatch.Mode)
	}
	for _, d := range c.Devices {
		if !utils.IsAddress(d) {
			return fmt.Errorf("device %q is not an address", d)
		}
	}
	if c.PreferredTarget != "" && !utils.IsAddress(c.PreferredTarget) {
		return fmt.Errorf("preferred_target %q is not an address", c.PreferredTarget)
	}
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unsupported log level %q", c.Log.Level)
	}
	return nil
}
