package config

import (
	"fmt"
	"os"
	"time"

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
	if cfg.Service.Timeout == 0 {
		cfg.Service.Timeout = 30 * time.Second
	}
	if cfg.Service.MaxTokens == 0 {
		cfg.Service.MaxTokens = 4000
	}
	if cfg.Service.CacheRefresh == 0 {
		cfg.Service.CacheRefresh = 4 * time.Minute
	}
	if cfg.Taxonomy.Path == "" {
		cfg.Taxonomy.Path = "taxonomy.json"
	}
	if cfg.Migration.BatchSize == 0 {
		cfg.Migration.BatchSize = 1000
	}
	if cfg.Migration.LeaseTTL == 0 {
		cfg.Migration.LeaseTTL = 5 * time.Minute
	}
	if cfg.Workers.Stage1 == 0 {
		cfg.Workers.Stage1 = 1
	}
	if cfg.Workers.Stage2 == 0 {
		cfg.Workers.Stage2 = 1
	}
	if cfg.Workers.IdleDelay == 0 {
		cfg.Workers.IdleDelay = 10 * time.Second
	}
	if cfg.Workers.BatchDelay == 0 {
		cfg.Workers.BatchDelay = 1 * time.Second
	}
	if cfg.Workers.FailureDelay == 0 {
		cfg.Workers.FailureDelay = 30 * time.Second
	}
	if cfg.Workers.MetricsWindow == 0 {
		cfg.Workers.MetricsWindow = 24 * time.Hour
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = 1 * time.Minute
	}
	if cfg.Sweep.StuckAfter == 0 {
		cfg.Sweep.StuckAfter = 10 * time.Minute
	}
	cfg.Throttle.ApplyDefaults()
}
