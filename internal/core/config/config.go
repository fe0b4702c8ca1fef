package config

import (
	"time"

	redisclient "github.com/vietddude/classifier/internal/infra/redis"
	"github.com/vietddude/classifier/internal/infra/storage/postgres"
	"github.com/vietddude/classifier/internal/throttle"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Source    SourceConfig       `yaml:"source"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Logging   LoggingConfig      `yaml:"logging"`
	Service   ServiceConfig      `yaml:"service"`
	Taxonomy  TaxonomyConfig     `yaml:"taxonomy"`
	Migration MigrationConfig    `yaml:"migration"`
	Workers   WorkersConfig      `yaml:"workers"`
	Throttle  throttle.Config    `yaml:"throttle"`
	Sweep     SweepConfig        `yaml:"sweep"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SourceConfig holds settings for the legacy source database (read-only).
type SourceConfig struct {
	URL         string   `yaml:"url"`
	Collections []string `yaml:"collections"` // source tables to migrate, in order
}

// ServiceConfig holds settings for the external classification service.
type ServiceConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
	CacheRefresh time.Duration `yaml:"cache_refresh"` // keep-alive interval, below the service cache TTL
}

// TaxonomyConfig points at the taxonomy tree file.
type TaxonomyConfig struct {
	Path string `yaml:"path"`
}

// MigrationConfig holds migration engine settings.
type MigrationConfig struct {
	BatchSize int           `yaml:"batch_size"`
	LeaseTTL  time.Duration `yaml:"lease_ttl"`
}

// WorkersConfig controls the classification worker pool.
type WorkersConfig struct {
	Stage1        int           `yaml:"stage1"`
	Stage2        int           `yaml:"stage2"`
	IdleDelay     time.Duration `yaml:"idle_delay"`  // wait when the claim queue is empty
	BatchDelay    time.Duration `yaml:"batch_delay"` // pause between processed batches
	FailureDelay  time.Duration `yaml:"failure_delay"`
	MetricsWindow time.Duration `yaml:"metrics_window"` // sample retention horizon
}

// SweepConfig controls the stuck-claim sweeper.
type SweepConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StuckAfter time.Duration `yaml:"stuck_after"`
}
