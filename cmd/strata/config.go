package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the strata configuration file (~/.config/strata/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	Backend   string `yaml:"backend"`
	Device    *int64 `yaml:"device"`
	SimBytes  *int64 `yaml:"sim_bytes"`
	MaxBlocks *int64 `yaml:"max_blocks"`
	Seed      *int64 `yaml:"seed"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "strata", "config.yaml")
}

// applyDeviceConfig applies config file defaults to the device and logging
// flags when the corresponding CLI flag was not explicitly set.
func applyDeviceConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backend = cfg.Backend
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceID = *cfg.Device
	}
	if cfg.SimBytes != nil && !c.IsSet("sim-bytes") {
		simBytes = *cfg.SimBytes
	}
	if cfg.MaxBlocks != nil && !c.IsSet("max-blocks") {
		maxBlocks = *cfg.MaxBlocks
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyDeviceConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
