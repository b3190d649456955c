// Package config loads the agent configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when the configuration file does not exist.
var ErrNotFound = errors.New("config file not found")

// Built-in section names, in default output order.
var DefaultSections = []string{"check_mk", "uptime", "mem", "cpu", "df", "ps", "processes", "local", "plugins"}

type Config struct {
	Listen           string            `yaml:"listen"`
	HTTPListen       string            `yaml:"http_listen"`
	StateDir         string            `yaml:"state_dir"`
	Sections         []string          `yaml:"sections"`
	HiddenHeaders    []string          `yaml:"hidden_headers"`
	Separators       map[string]string `yaml:"separators"`
	RealtimeInterval time.Duration     `yaml:"realtime_interval"`
	Plugins          Executables       `yaml:"plugins"`
	Local            Executables       `yaml:"local"`
	PS               PSConfig          `yaml:"ps"`
	DF               DFConfig          `yaml:"df"`
}

// Executables configures a directory of scripts run by the agent.
type Executables struct {
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
	TTY     bool          `yaml:"tty"`
}

type PSConfig struct {
	Sort  string `yaml:"sort"`
	Limit int    `yaml:"limit"`
}

type DFConfig struct {
	ExcludeFSTypes []string `yaml:"exclude_fstypes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:           ":6556",
		HTTPListen:       "localhost:22124",
		Sections:         append([]string(nil), DefaultSections...),
		RealtimeInterval: time.Second,
		Plugins:          Executables{Timeout: 60 * time.Second},
		Local:            Executables{Timeout: 60 * time.Second},
		PS:               PSConfig{Sort: "cpu"},
		DF:               DFConfig{ExcludeFSTypes: []string{"tmpfs", "devtmpfs", "squashfs", "overlay"}},
	}
}

// Load reads path on top of the defaults. Fields missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve picks the configuration file: the flag value, then $MONAGENT_CONFIG, then
// monagent.yaml in the state directory. A missing default file is not an error.
func Resolve(flagPath, stateDir string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("MONAGENT_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = filepath.Join(stateDir, "monagent.yaml")
	}

	cfg, err := Load(path)
	if err != nil {
		if !explicit && errors.Is(err, ErrNotFound) {
			cfg = Default()
		} else {
			return nil, err
		}
	}
	if cfg.StateDir == "" {
		cfg.StateDir = stateDir
	}
	return cfg, nil
}

// passThrough lists the sections whose body is written by external executables. Only
// their separator is configurable, as the built-in sections have a fixed line format.
var passThrough = map[string]bool{"local": true, "plugins": true}

func (c *Config) Validate() error {
	known := make(map[string]bool, len(DefaultSections))
	for _, name := range DefaultSections {
		known[name] = true
	}

	for _, name := range c.Sections {
		if !known[name] {
			return fmt.Errorf("unknown section %q", name)
		}
	}
	for _, name := range c.HiddenHeaders {
		if !known[name] {
			return fmt.Errorf("hidden_headers: unknown section %q", name)
		}
	}
	for name, sep := range c.Separators {
		if !known[name] {
			return fmt.Errorf("separators: unknown section %q", name)
		}
		if !passThrough[name] {
			return fmt.Errorf("separators: %s: section has a fixed line format", name)
		}
		if len(sep) != 1 {
			return fmt.Errorf("separators: %s: separator must be a single byte, got %q", name, sep)
		}
	}
	if c.RealtimeInterval <= 0 {
		return fmt.Errorf("realtime_interval must be positive, got %s", c.RealtimeInterval)
	}
	if c.Plugins.Timeout <= 0 || c.Local.Timeout <= 0 {
		return fmt.Errorf("plugin timeouts must be positive")
	}
	if c.PS.Limit < 0 {
		return fmt.Errorf("ps.limit must not be negative")
	}
	return nil
}

// Hidden reports whether the header of the named section is hidden.
func (c *Config) Hidden(name string) bool {
	for _, n := range c.HiddenHeaders {
		if n == name {
			return true
		}
	}
	return false
}

// Separator returns the configured separator of a section, if any.
func (c *Config) Separator(name string) (byte, bool) {
	sep, ok := c.Separators[name]
	if !ok || len(sep) != 1 {
		return 0, false
	}
	return sep[0], true
}
