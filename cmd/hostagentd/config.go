package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the agent's TOML configuration. Only Address is required; an
// agent started with just --address runs with every optional subsystem off.
type Config struct {
	Address          string          `toml:"address"`
	AdvertiseAddress string          `toml:"advertise_address"`
	LogLevel         string          `toml:"log_level"`
	Discovery        DiscoveryConfig `toml:"discovery"`
	Limits           LimitsConfig    `toml:"limits"`
}

type DiscoveryConfig struct {
	Endpoints []string `toml:"endpoints"`
}

type LimitsConfig struct {
	// Rate and Burst configure the shared token-bucket limiter; zero Rate
	// disables limiting.
	Rate  float64 `toml:"rate"`
	Burst int     `toml:"burst"`
	// DispatchTimeout bounds one dispatch (e.g. "5m"); zero disables it.
	DispatchTimeout duration `toml:"dispatch_timeout"`
}

// duration lets TOML carry values like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// loadConfig reads and validates the TOML configuration file.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("config %s: address is required", path)
	}
	return &cfg, nil
}
