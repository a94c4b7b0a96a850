package config

import (
	"fmt"
	"time"
)

// UnlockPlaneConfig configures the public unlock HTTP server.
type UnlockPlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8081"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
}

// Validate performs validation on the UnlockPlaneConfig.
func (c *UnlockPlaneConfig) Validate() error {
	// Validate port
	if err := validatePort(c.Port, "unlock plane"); err != nil {
		return err
	}

	// Validate host
	if err := validateHost(c.Host, "unlock plane"); err != nil {
		return err
	}

	return nil
}

// UnlockConfig contains the tunables of the unlock flow itself.
type UnlockConfig struct {
	// RateLimitWindow is the trailing window inspected for repeated unlock
	// attempts by the same visitor against the same package.
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"10s" validate:"gt=0"`

	// RateLimitMax is the number of unlock events inside the window at which
	// further attempts are rejected.
	RateLimitMax int `envconfig:"RATE_LIMIT_MAX" default:"3" validate:"min=1"`

	// CacheCapacity is the max number of package snapshots held in the
	// in-memory L1 cache.
	CacheCapacity int `envconfig:"CACHE_CAPACITY" default:"10000" validate:"min=1"`

	// CacheTTL bounds staleness of L1 entries. L2 (Redis) entries are
	// refreshed by the reconciler and invalidated on admin mutations.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s" validate:"gt=0"`
}

// Validate performs validation on the UnlockConfig.
func (c *UnlockConfig) Validate() error {
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("rate limit max must be at least 1")
	}
	return nil
}
