// ABOUTME: Configuration for the gazelink monitor
// ABOUTME: Struct defaults overlaid by an optional YAML file
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds monitor settings. YAML fields overlay Default values.
type Config struct {
	ServerAddr          string `yaml:"server_addr"`
	BufferCapacity      int    `yaml:"buffer_capacity"`
	BufferDurationMs    int    `yaml:"buffer_duration_ms"`
	ReconnectAttempts   int    `yaml:"reconnect_attempts"`
	ReconnectDelayMs    int    `yaml:"reconnect_delay_ms"`
	SyncProbes          int    `yaml:"sync_probes"`
	SyncProbeIntervalMs int    `yaml:"sync_probe_interval_ms"`
	LogFile             string `yaml:"log_file"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ServerAddr:          "localhost:8765",
		BufferCapacity:      10000,
		BufferDurationMs:    60000,
		ReconnectAttempts:   5,
		ReconnectDelayMs:    1000,
		SyncProbes:          8,
		SyncProbeIntervalMs: 50,
		LogFile:             "gazelink-monitor.log",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.BufferCapacity < 1 {
		return cfg, fmt.Errorf("config %s: buffer_capacity must be positive", path)
	}
	return cfg, nil
}
