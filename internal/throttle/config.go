package throttle

import "time"

// Config tunes retry backoff and adaptive batch sizing.
type Config struct {
	InitialBatch int     `yaml:"initial_batch"`
	MinBatch     int     `yaml:"min_batch"`
	MaxBatch     int     `yaml:"max_batch"`
	GrowthFactor float64 `yaml:"growth_factor"`
	ShrinkFactor float64 `yaml:"shrink_factor"`
	GrowAfter    int     `yaml:"grow_after"`

	ThrottleBase     time.Duration `yaml:"throttle_base"`
	ThrottleMax      time.Duration `yaml:"throttle_max"`
	ThrottleAttempts int           `yaml:"throttle_attempts"`

	TimeoutDelay    time.Duration `yaml:"timeout_delay"`
	TimeoutAttempts int           `yaml:"timeout_attempts"`
	BisectFloor     int           `yaml:"bisect_floor"`

	OverloadDelay    time.Duration `yaml:"overload_delay"`
	OverloadAttempts int           `yaml:"overload_attempts"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.InitialBatch <= 0 {
		c.InitialBatch = 50
	}
	if c.MinBatch <= 0 {
		c.MinBatch = 10
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 250
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = 1.5
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = 0.5
	}
	if c.GrowAfter <= 0 {
		c.GrowAfter = 3
	}
	if c.ThrottleBase <= 0 {
		c.ThrottleBase = 30 * time.Second
	}
	if c.ThrottleMax <= 0 {
		c.ThrottleMax = 4 * time.Minute
	}
	if c.ThrottleAttempts <= 0 {
		c.ThrottleAttempts = 3
	}
	if c.TimeoutDelay <= 0 {
		c.TimeoutDelay = 5 * time.Second
	}
	if c.TimeoutAttempts <= 0 {
		c.TimeoutAttempts = 3
	}
	if c.BisectFloor <= 0 {
		c.BisectFloor = 10
	}
	if c.OverloadDelay <= 0 {
		c.OverloadDelay = 15 * time.Second
	}
	if c.OverloadAttempts <= 0 {
		c.OverloadAttempts = 5
	}
}
