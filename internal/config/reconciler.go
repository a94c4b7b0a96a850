package config

import "time"

// ReconcilerConfig contains configuration for the reconciler worker service.
type ReconcilerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Interval is the duration between reconciliation cycles.
	Interval time.Duration `envconfig:"INTERVAL" default:"60s" validate:"min=1s"`

	// WarmCache controls whether each cycle also rewrites package snapshots
	// into the Redis L2 cache after counters are reconciled.
	WarmCache bool `envconfig:"WARM_CACHE" default:"true"`
}
