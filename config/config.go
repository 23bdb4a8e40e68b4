package config

import (
	"fmt"
	"fw_upload/constants"
	"fw_upload/logging"
	"fw_upload/networking"
	"fw_upload/networking/opcode"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// Config holds defaults for the client, server and monitor programs.
// Command line flags override anything set here.
type Config struct {
	Target   string `toml:"target" yaml:"target"`
	Port     int    `toml:"port" yaml:"port"`
	Version  int    `toml:"version" yaml:"version"`
	Timeout  string `toml:"timeout" yaml:"timeout"`
	DSCP     int    `toml:"dscp" yaml:"dscp"`
	MPTCP    bool   `toml:"mptcp" yaml:"mptcp"`
	LogLevel string `toml:"log_level" yaml:"log_level"`

	Emulator EmulatorConfig `toml:"emulator" yaml:"emulator"`
	Monitor  MonitorConfig  `toml:"monitor" yaml:"monitor"`
}

type EmulatorConfig struct {
	Listen   string `toml:"listen" yaml:"listen"`
	Root     string `toml:"root" yaml:"root"`
	Padding  int    `toml:"padding" yaml:"padding"`
	Compress bool   `toml:"compress" yaml:"compress"`
}

type MonitorConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
	Ports  []int  `toml:"ports" yaml:"ports"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Target:   constants.DEFAULT_TARGET,
		Port:     constants.DEFAULT_PORT,
		Version:  constants.DEFAULT_VERSION,
		Timeout:  constants.DEFAULT_ACK_TIMEOUT.String(),
		DSCP:     constants.DEFAULT_DSCP,
		Emulator: EmulatorConfig{
			Listen: "0.0.0.0",
		},
		Monitor: MonitorConfig{
			Listen: "0.0.0.0",
			Ports:  []int{constants.DEFAULT_MONITOR_PORT},
		},
	}
}

// Load reads a .toml or .yaml file over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config load failed (%s): unsupported format", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AckTimeout parses Timeout
func (c Config) AckTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(c.Timeout))
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	return d, nil
}

// Validate rejects values no program could run with
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := opcode.Lookup(opcode.Version(c.Version)); err != nil {
		return err
	}
	if d, err := c.AckTimeout(); err != nil {
		return err
	} else if d <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("invalid dscp %d", c.DSCP)
	}
	if c.Emulator.Padding < 0 || c.Emulator.Padding > networking.MaxAckPadding {
		return fmt.Errorf("invalid emulator padding %d, must be 0-%d", c.Emulator.Padding, networking.MaxAckPadding)
	}
	// Empty defers to the environment, see logging.New.
	if c.LogLevel != "" {
		if _, ok := logging.ParseLevel(c.LogLevel); !ok {
			return fmt.Errorf("unknown log level %q", c.LogLevel)
		}
	}
	for _, p := range c.Monitor.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid monitor port %d", p)
		}
	}
	return nil
}
