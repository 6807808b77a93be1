package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"roadway/internal/wire"
)

// FileConfig is the on-disk YAML configuration for a roadway node.
type FileConfig struct {
	Name string `yaml:"name"`

	Listen struct {
		Host string `yaml:"host"`
		Port uint16 `yaml:"port"`
	} `yaml:"listen"`

	Bootstrap struct {
		Host string `yaml:"host"`
		Port uint16 `yaml:"port"`
	} `yaml:"bootstrap"`

	// Carrier selects the datagram transport: udp (default) or quic.
	Carrier string `yaml:"carrier"`

	KeepDir    string `yaml:"keep_dir"`
	StatusAddr string `yaml:"status_addr"`

	Tick       time.Duration `yaml:"tick"`
	Timeout    time.Duration `yaml:"timeout"`
	AutoAccept bool          `yaml:"auto_accept"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

// DefaultConfig returns the configuration a bare node runs with.
func DefaultConfig() FileConfig {
	var cfg FileConfig
	cfg.Name = "roadway"
	cfg.Listen.Host = wire.DefaultHost
	cfg.Listen.Port = wire.DefaultPort
	cfg.Bootstrap.Host = wire.DefaultHost
	cfg.Bootstrap.Port = wire.DefaultPort
	cfg.Carrier = "udp"
	cfg.KeepDir = "roadway-keep"
	cfg.StatusAddr = "127.0.0.1:7532"
	cfg.Tick = 100 * time.Millisecond
	cfg.AutoAccept = true
	cfg.Log.Level = "info"
	return cfg
}

// LoadConfig reads a YAML file over the defaults; an empty path keeps
// the defaults.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %v", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %v", err)
	}
	if cfg.Carrier != "udp" && cfg.Carrier != "quic" {
		return cfg, fmt.Errorf("config: unknown carrier %q", cfg.Carrier)
	}
	return cfg, nil
}
