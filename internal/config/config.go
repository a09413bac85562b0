package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from the broker's YAML file.
type Config struct {
	Global  GlobalConfig            `yaml:"global"`
	Streams map[string]StreamConfig `yaml:"streams"`
}

// GlobalConfig holds the defaults that apply to every stream unless
// overridden in Streams.
type GlobalConfig struct {
	DataDir           string `yaml:"data_dir"`
	Partitions        int    `yaml:"partitions"`
	TTL               int    `yaml:"ttl"`
	RebalanceInterval int    `yaml:"rebalance_interval"`
	PruneInterval     int    `yaml:"prune_interval"`
	ReceiverTimeout   int    `yaml:"receiver_timeout"`
	Port              int    `yaml:"port"`
}

// StreamConfig overrides global defaults for a single named stream.
// Partitions is a pointer so "unset" (use global) is distinguishable from
// an explicit zero, and TTL the same way.
type StreamConfig struct {
	Partitions *int `yaml:"partitions"`
	TTL        *int `yaml:"ttl"`
}

// PartitionsFor returns the target partition count for a stream.
func (c *Config) PartitionsFor(stream string) int {
	if sc, ok := c.Streams[stream]; ok && sc.Partitions != nil {
		return *sc.Partitions
	}
	return c.Global.Partitions
}

// TTLFor returns the retention TTL in seconds for a stream.
func (c *Config) TTLFor(stream string) int {
	if sc, ok := c.Streams[stream]; ok && sc.TTL != nil {
		return *sc.TTL
	}
	return c.Global.TTL
}

// Validate checks that the required global settings are present and sane.
func (c *Config) Validate() error {
	if c.Global.DataDir == "" {
		return fmt.Errorf("config: global.data_dir is required")
	}
	if c.Global.Partitions < 1 {
		return fmt.Errorf("config: global.partitions must be >= 1")
	}
	if c.Global.RebalanceInterval <= 0 {
		return fmt.Errorf("config: global.rebalance_interval must be > 0")
	}
	if c.Global.PruneInterval <= 0 {
		return fmt.Errorf("config: global.prune_interval must be > 0")
	}
	if c.Global.ReceiverTimeout <= 0 {
		return fmt.Errorf("config: global.receiver_timeout must be > 0")
	}
	return nil
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	LoadFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
