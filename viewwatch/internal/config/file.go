// Package config handles viewwatch configuration from YAML files or SQLite.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level viewwatch configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// PageConfig defines a page and the elements tracked on it.
type PageConfig struct {
	ID        string   `yaml:"id"`
	URL       string   `yaml:"url"`
	Selector  string   `yaml:"selector"`
	Container string   `yaml:"container"` // CSS selector of the scroll container; empty = viewport
	KeyAttr   string   `yaml:"key_attr"`  // attribute copied into ElementRef.Key
	Kinds     []string `yaml:"kinds"`     // exposure, stay; empty = both
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout
}

// HTTPConfig controls the admin listener.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates pages.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	for _, p := range cfg.Pages {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Validate checks the fields a page cannot run without.
func (p PageConfig) Validate() error {
	switch {
	case p.ID == "":
		return errors.New("config: page id is required")
	case p.URL == "":
		return fmt.Errorf("config: page %s: url is required", p.ID)
	case p.Selector == "":
		return fmt.Errorf("config: page %s: selector is required", p.ID)
	}
	for _, k := range p.Kinds {
		if k != "exposure" && k != "stay" {
			return fmt.Errorf("config: page %s: unknown kind %q", p.ID, k)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8090"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// Default returns a configuration with defaults applied and no pages.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}
