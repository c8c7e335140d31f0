package sim

import (
	"fmt"
	"runtime"
)

// ParallelConfig groups fork-join parameters for phase visits.
type ParallelConfig struct {
	Workers   int `yaml:"workers"`   // shards per phase (0 = GOMAXPROCS)
	Threshold int `yaml:"threshold"` // members below which a phase runs as a single inline shard
}

// ScheduleConfig groups event-loop parameters.
type ScheduleConfig struct {
	Integrator      string  `yaml:"integrator"`        // "euler" (default), "rk4" or "runge-kutta"
	SpikesAfterStep bool    `yaml:"spikes_after_step"` // at equal time, run steps before spikes
	LingerThreshold int     `yaml:"linger_threshold"`  // tombstones tolerated before an EventStep compacts
	LingerRatio     float64 `yaml:"linger_ratio"`      // tombstone fraction of the member list that forces compaction
}

// PoolConfig groups population storage parameters.
type PoolConfig struct {
	BlockSize int `yaml:"block_size"` // first storage block size
	MaxBlock  int `yaml:"max_block"`  // blocks double up to this size
	Capacity  int `yaml:"capacity"`   // per-population instance cap (0 = unbounded)
}

// Config groups simulator construction parameters.
type Config struct {
	Seed     int64          `yaml:"seed"`
	Parallel ParallelConfig `yaml:"parallel"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Pool     PoolConfig     `yaml:"pool"`
}

// DefaultConfig returns the configuration used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Seed: 42,
		Parallel: ParallelConfig{
			Workers:   runtime.GOMAXPROCS(0),
			Threshold: 64,
		},
		Schedule: ScheduleConfig{
			Integrator:      "euler",
			LingerThreshold: 64,
			LingerRatio:     0.25,
		},
		Pool: PoolConfig{
			BlockSize: 32,
			MaxBlock:  4096,
		},
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Parallel.Workers == 0 {
		c.Parallel.Workers = d.Parallel.Workers
	}
	if c.Parallel.Threshold == 0 {
		c.Parallel.Threshold = d.Parallel.Threshold
	}
	if c.Schedule.Integrator == "" {
		c.Schedule.Integrator = d.Schedule.Integrator
	}
	if c.Schedule.LingerThreshold == 0 {
		c.Schedule.LingerThreshold = d.Schedule.LingerThreshold
	}
	if c.Schedule.LingerRatio == 0 {
		c.Schedule.LingerRatio = d.Schedule.LingerRatio
	}
	if c.Pool.BlockSize == 0 {
		c.Pool.BlockSize = d.Pool.BlockSize
	}
	if c.Pool.MaxBlock == 0 {
		c.Pool.MaxBlock = d.Pool.MaxBlock
	}
	return c
}

// Validate reports the first invalid field after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Parallel.Workers < 0 {
		return fmt.Errorf("parallel.workers must be >= 0, got %d", c.Parallel.Workers)
	}
	if c.Parallel.Threshold < 0 {
		return fmt.Errorf("parallel.threshold must be >= 0, got %d", c.Parallel.Threshold)
	}
	if !IsValidIntegrator(c.Schedule.Integrator) {
		return fmt.Errorf("unknown integrator %q; valid options: %s", c.Schedule.Integrator, ValidIntegratorNames())
	}
	if c.Schedule.LingerThreshold < 0 {
		return fmt.Errorf("schedule.linger_threshold must be >= 0, got %d", c.Schedule.LingerThreshold)
	}
	if c.Schedule.LingerRatio < 0 || c.Schedule.LingerRatio > 1 {
		return fmt.Errorf("schedule.linger_ratio must be in [0, 1], got %g", c.Schedule.LingerRatio)
	}
	if c.Pool.BlockSize < 1 {
		return fmt.Errorf("pool.block_size must be >= 1, got %d", c.Pool.BlockSize)
	}
	if c.Pool.MaxBlock < c.Pool.BlockSize {
		return fmt.Errorf("pool.max_block (%d) must be >= pool.block_size (%d)", c.Pool.MaxBlock, c.Pool.BlockSize)
	}
	if c.Pool.Capacity < 0 {
		return fmt.Errorf("pool.capacity must be >= 0, got %d", c.Pool.Capacity)
	}
	return nil
}
