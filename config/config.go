// Package config holds the tunable settings of the scheduling engine,
// loadable from a dispatch.toml file with sensible defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config groups the engine tunables. Zero values are replaced by defaults
// during Validate, so a partial TOML file is fine.
type Config struct {
	// MaxConcurrentTasksPerSession caps running slots per session.
	MaxConcurrentTasksPerSession int `toml:"max_concurrent_tasks_per_session"`

	// MaxParallelSiblings caps concurrently running children of one parent.
	MaxParallelSiblings int `toml:"max_parallel_siblings"`

	// MaxConcurrentTasksPerAgent caps assigned+running tasks per agent.
	MaxConcurrentTasksPerAgent int `toml:"max_concurrent_tasks_per_agent"`

	// SerializedScopes lists scopes limited to one running task at a time.
	SerializedScopes []string `toml:"serialized_scopes"`

	// DefaultMaxRetries is applied to tasks created without one.
	DefaultMaxRetries int `toml:"default_max_retries"`

	// DefaultTaskTimeout is applied to tasks created without one.
	DefaultTaskTimeout time.Duration `toml:"default_task_timeout"`

	// RetryBackoffBase is the base delay for timeout retries.
	// Delay is base * 2^min(retryCount, 4).
	RetryBackoffBase time.Duration `toml:"retry_backoff_base"`

	// AssignmentCooldown is the minimum gap between assignment attempts
	// for the same task.
	AssignmentCooldown time.Duration `toml:"assignment_cooldown"`

	// EngineIdleEviction is how long an idle engine survives after release.
	EngineIdleEviction time.Duration `toml:"engine_idle_eviction"`

	// MaintenanceInterval is the period of the background sweep.
	MaintenanceInterval time.Duration `toml:"maintenance_interval"`

	// RequireStrictMatch disables degraded fallback assignments.
	RequireStrictMatch bool `toml:"require_strict_match"`
}

// Default returns the engine defaults.
func Default() Config {
	return Config{
		MaxConcurrentTasksPerSession: 3,
		MaxParallelSiblings:          1,
		MaxConcurrentTasksPerAgent:   1,
		SerializedScopes:             []string{"workspace"},
		DefaultMaxRetries:            2,
		DefaultTaskTimeout:           600 * time.Second,
		RetryBackoffBase:             60 * time.Second,
		AssignmentCooldown:           3 * time.Second,
		EngineIdleEviction:           300 * time.Second,
		MaintenanceInterval:          30 * time.Second,
	}
}

// Load reads a TOML config file and fills unset fields with defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults replaces zero values with the engine defaults.
func (c *Config) applyDefaults() {
	def := Default()
	if c.MaxConcurrentTasksPerSession == 0 {
		c.MaxConcurrentTasksPerSession = def.MaxConcurrentTasksPerSession
	}
	if c.MaxParallelSiblings == 0 {
		c.MaxParallelSiblings = def.MaxParallelSiblings
	}
	if c.MaxConcurrentTasksPerAgent == 0 {
		c.MaxConcurrentTasksPerAgent = def.MaxConcurrentTasksPerAgent
	}
	if c.SerializedScopes == nil {
		c.SerializedScopes = def.SerializedScopes
	}
	if c.DefaultMaxRetries == 0 {
		c.DefaultMaxRetries = def.DefaultMaxRetries
	}
	if c.DefaultTaskTimeout == 0 {
		c.DefaultTaskTimeout = def.DefaultTaskTimeout
	}
	if c.RetryBackoffBase == 0 {
		c.RetryBackoffBase = def.RetryBackoffBase
	}
	if c.AssignmentCooldown == 0 {
		c.AssignmentCooldown = def.AssignmentCooldown
	}
	if c.EngineIdleEviction == 0 {
		c.EngineIdleEviction = def.EngineIdleEviction
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = def.MaintenanceInterval
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.MaxConcurrentTasksPerSession < 1 {
		return fmt.Errorf("max_concurrent_tasks_per_session must be >= 1")
	}
	if c.MaxParallelSiblings < 1 {
		return fmt.Errorf("max_parallel_siblings must be >= 1")
	}
	if c.MaxConcurrentTasksPerAgent < 1 {
		return fmt.Errorf("max_concurrent_tasks_per_agent must be >= 1")
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("default_max_retries must be >= 0")
	}
	if c.DefaultTaskTimeout <= 0 {
		return fmt.Errorf("default_task_timeout must be positive")
	}
	if c.RetryBackoffBase <= 0 {
		return fmt.Errorf("retry_backoff_base must be positive")
	}
	return nil
}

// SerializedScope reports whether the given scope is concurrency-serialized.
func (c Config) SerializedScope(scope string) bool {
	for _, s := range c.SerializedScopes {
		if s == scope {
			return true
		}
	}
	return false
}
