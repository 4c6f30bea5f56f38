package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// envConfigPath overrides the config file location.
const envConfigPath = "PANGOLOG_CONFIG"

// Config represents the pangolog configuration file
// (~/.config/pangolog/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	// LogDir is where record writes when --out is omitted, and what serve
	// exposes when --dir is omitted.
	LogDir string `yaml:"log_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Writer and reader defaults
	Compression   string `yaml:"compression"`
	BufferSize    *int64 `yaml:"buffer_size"`
	StrictSources *bool  `yaml:"strict_sources"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "pangolog", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config
// and no error.
func LoadConfig() (Config, error) {
	path := configPath()
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyReaderConfig applies config defaults to the shared reader flags.
func applyReaderConfig(c *cli.Command, cfg Config) {
	if cfg.BufferSize != nil && !c.IsSet("buffer-size") {
		bufferSize = *cfg.BufferSize
	}
	if cfg.StrictSources != nil && !c.IsSet("strict-sources") {
		strictSources = *cfg.StrictSources
	}
}

// applyRecordConfig applies config defaults to record command variables.
func applyRecordConfig(c *cli.Command, cfg Config, compress *string) {
	if cfg.Compression != "" && !c.IsSet("compress") {
		*compress = cfg.Compression
	}
	if cfg.BufferSize != nil && !c.IsSet("buffer-size") {
		bufferSize = *cfg.BufferSize
	}
}

// applyServeConfig applies config defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, dir, addr *string) {
	if cfg.LogDir != "" && !c.IsSet("dir") {
		*dir = cfg.LogDir
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	applyReaderConfig(c, cfg)
}
