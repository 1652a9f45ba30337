// Package worker runs the measurement sync loop.
package worker

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls the delay after consecutive failed cycles.
type RetryPolicy struct {
	// Enabled switches capped exponential backoff on. When false, failed
	// cycles are followed by the regular poll interval.
	// Default: true
	Enabled bool

	// InitialInterval is the delay after the first failure.
	// Default: 5 seconds
	InitialInterval time.Duration

	// MaxInterval caps the delay.
	// Default: 5 minutes
	MaxInterval time.Duration

	// Multiplier grows the delay after each further failure.
	// Default: 2
	Multiplier float64
}

// SyncConfig holds configuration for the sync job.
type SyncConfig struct {
	// CollectionPath is the store path that is mirrored.
	// Default: /measurements
	CollectionPath string

	// PollInterval is the delay between cycles in steady state.
	// Default: 60 seconds
	PollInterval time.Duration

	// WriteEmpty writes a header-only table when the store is empty.
	// Default: false (the previous file is kept)
	WriteEmpty bool

	Retry RetryPolicy
}

// DefaultSyncConfig returns the default sync configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		CollectionPath: "/measurements",
		PollInterval:   60 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:         true,
		InitialInterval: 5 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2,
	}
}

func (c SyncConfig) withDefaults() SyncConfig {
	d := DefaultSyncConfig()
	if c.CollectionPath == "" {
		c.CollectionPath = d.CollectionPath
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = d.Retry.InitialInterval
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		c.Retry.MaxInterval = max(d.Retry.MaxInterval, c.Retry.InitialInterval)
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
	return c
}

// newBackOff builds a deterministic exponential backoff for p. It never
// stops on its own; the loop decides when to reset it.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
