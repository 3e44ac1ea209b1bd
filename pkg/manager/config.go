package manager

import (
	"errors"
	"time"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/resilience"
)

// Config configures the cache manager.
type Config struct {
	// Disabled turns caching off entirely; GetOrExecute just runs the operation.
	Disabled bool

	// StrictPersistence disables caching instead of falling back to memory
	// when no persistent backend is usable.
	StrictPersistence bool

	// DefaultTTL applies when a caller passes no TTL (default: 5m)
	DefaultTTL time.Duration

	// MaxTTL caps caller-supplied TTLs (0 = no cap)
	MaxTTL time.Duration

	// CleanupProbability is the chance a Get schedules a cleanup pass (default: 0.01)
	CleanupProbability float64

	// CleanupInterval is the minimum time between cleanup passes (default: 60s)
	CleanupInterval time.Duration

	// HealthTimeout bounds each backend health check during selection (default: 2s)
	HealthTimeout time.Duration

	// Resilience configures the circuit breaker around durable backends.
	Resilience resilience.ResilientConfig
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:         5 * time.Minute,
		CleanupProbability: 0.01,
		CleanupInterval:    60 * time.Second,
		HealthTimeout:      2 * time.Second,
		Resilience:         resilience.DefaultResilientConfig(),
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.CleanupProbability < 0 || c.CleanupProbability > 1 {
		return errors.New("manager: cleanup probability must be within [0, 1]")
	}
	if c.CleanupInterval < 0 {
		return errors.New("manager: cleanup interval must be non-negative")
	}
	policy := c.ttlPolicy()
	return policy.Validate()
}

func (c Config) ttlPolicy() cache.TTLPolicy {
	return cache.TTLPolicy{DefaultTTL: c.DefaultTTL, MaxTTL: c.MaxTTL}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTTL == 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = d.HealthTimeout
	}
	if c.Resilience.Timeout == 0 {
		c.Resilience = d.Resilience
	}
	return c
}
