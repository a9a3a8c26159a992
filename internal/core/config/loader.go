package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Sync.Processing.BatchSize == 0 {
		cfg.Sync.Processing.BatchSize = 100
	}
	if cfg.Sync.Target.DuplicateStrategy == "" {
		cfg.Sync.Target.DuplicateStrategy = "error"
	}
	if cfg.Sync.Session.InitiatedBy == "" {
		cfg.Sync.Session.InitiatedBy = "system"
	}
}
