package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overrides config fields from environment variables, so a
// deployment can tweak the port or data directory without editing the
// YAML file on disk.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("STOPOVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Global.Port = p
		}
	}

	if dataDir := os.Getenv("STOPOVER_DATA_DIR"); dataDir != "" {
		cfg.Global.DataDir = dataDir
	}

	if partitions := os.Getenv("STOPOVER_PARTITIONS"); partitions != "" {
		if p, err := strconv.Atoi(partitions); err == nil {
			cfg.Global.Partitions = p
		}
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
