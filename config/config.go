// Package config holds the daemon's local settings file. Everything about
// which directories to watch and how to classify files comes from the indexing
// service at runtime; this file only covers how to reach that service and the
// local timing knobs.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, decoded from TOML.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Monitor MonitorConfig `toml:"monitor"`
	Control ControlConfig `toml:"control"`
}

// ServiceConfig locates the indexing service.
type ServiceConfig struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout_seconds"`
	CleanTimeout   int    `toml:"clean_timeout_seconds"`
}

// MonitorConfig tunes the watch pipeline.
type MonitorConfig struct {
	BatchSize       int `toml:"batch_size"`
	BatchIntervalMS int `toml:"batch_interval_ms"`
	DebounceMS      int `toml:"debounce_ms"`
}

// ControlConfig configures the local control API.
type ControlConfig struct {
	Listen string `toml:"listen"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:        "http://127.0.0.1:8000",
			RequestTimeout: 10,
			CleanTimeout:   30,
		},
		Monitor: MonitorConfig{
			BatchSize:       50,
			BatchIntervalMS: 10_000,
			DebounceMS:      100,
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:8787",
		},
	}
}

// Read decodes a Config from the provided reader, on top of defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Load reads the configuration file at path. A missing file is not an error;
// defaults apply.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// BatchInterval returns the flush interval as a duration.
func (c *Config) BatchInterval() time.Duration {
	return time.Duration(c.Monitor.BatchIntervalMS) * time.Millisecond
}

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Monitor.DebounceMS) * time.Millisecond
}

// RequestTimeout returns the general API timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Service.RequestTimeout) * time.Second
}

// CleanTimeout returns the timeout for purge requests as a duration.
func (c *Config) CleanTimeout() time.Duration {
	return time.Duration(c.Service.CleanTimeout) * time.Second
}
