package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health represents the health status of an upstream behind a Client.
type Health struct {
	// Name is the upstream identifier.
	Name string `json:"name"`

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State `json:"-"`

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts `json:"-"`

	// LastSuccessAt is the timestamp of the last successful request.
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`

	// LastFailureAt is the timestamp of the last failed request.
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`

	// LastError is the most recent error message, if any.
	LastError string `json:"lastError,omitempty"`
}

// IsHealthy returns true if the upstream is considered healthy.
func (h Health) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the upstream is in a degraded state (half-open).
func (h Health) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the upstream is unhealthy (circuit open).
func (h Health) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Status returns the circuit state as a string.
func (h Health) Status() string {
	return h.CircuitState.String()
}

// HealthTracker records request outcomes for one upstream.
type HealthTracker struct {
	name string
	now  func() time.Time

	mu            sync.RWMutex
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewHealthTracker creates a tracker for the named upstream.
func NewHealthTracker(name string) *HealthTracker {
	return &HealthTracker{name: name, now: time.Now}
}

// RecordSuccess records a successful request.
func (t *HealthTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.lastSuccessAt = &now
}

// RecordFailure records a failed request.
func (t *HealthTracker) RecordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.lastFailureAt = &now
	if err != nil {
		t.lastError = err.Error()
	}
}

// Snapshot combines the recorded outcomes with the given breaker state.
func (t *HealthTracker) Snapshot(state gobreaker.State, counts gobreaker.Counts) Health {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Health{
		Name:          t.name,
		CircuitState:  state,
		Counts:        counts,
		LastSuccessAt: t.lastSuccessAt,
		LastFailureAt: t.lastFailureAt,
		LastError:     t.lastError,
	}
}
