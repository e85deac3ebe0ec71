// Package gateway wraps the hosting API client with per-endpoint-group
// circuit breakers and fallback call variants, and reports service
// health to the daemon and the monitoring endpoint.
package gateway

import (
	"sync"
	"time"
)

// CircuitState is the breaker's position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens
	// the circuit.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long an open circuit waits before allowing
	// a probe.
	DefaultCooldown = 60 * time.Second
)

// Breaker is a three-state circuit breaker for one endpoint group.
// Safe for concurrent use; the clock is injectable for tests.
type Breaker struct {
	mu sync.Mutex

	state               CircuitState
	consecutiveFailures int
	threshold           int
	cooldown            time.Duration
	openedAt            time.Time
	probing             bool // a half-open probe is in flight

	now func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithThreshold sets the consecutive-failure threshold.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		b.threshold = n
	}
}

// WithCooldown sets the open-state cool-down interval.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		b.cooldown = d
	}
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		b.now = now
	}
}

// NewBreaker creates a closed Breaker.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:     CircuitClosed,
		threshold: DefaultFailureThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. While open, calls are
// short-circuited until the cool-down elapses; then exactly one probe
// is admitted in the half-open state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true
	case CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess resets the breaker to closed and zeroes the failure
// counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.probing = false
}

// RecordFailure increments the failure counter, opening the circuit at
// the threshold. A failed half-open probe reopens the circuit and
// restarts the cool-down.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.probing = false

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.threshold {
			b.state = CircuitOpen
			b.openedAt = b.now()
		}
	case CircuitHalfOpen:
		b.state = CircuitOpen
		b.openedAt = b.now()
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
