package events

import (
	"sync"
	"time"
)

// CircuitState represents the state of a subscriber's circuit breaker.
type CircuitState int

const (
	// CircuitClosed means dispatches flow to the subscriber normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the subscriber has failed too often recently and
	// dispatches to it are skipped until the cooldown elapses.
	CircuitOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	if s == CircuitOpen {
		return "open"
	}
	return "closed"
}

// circuitBreaker isolates a repeatedly failing subscriber from the rest of
// the bus. Failures are counted within a sliding window; crossing the
// threshold opens the circuit. After the cooldown, exactly one probe
// dispatch is allowed through: success closes the circuit and resets the
// failure count, failure re-opens it immediately for another cooldown.
//
// The breaker takes explicit time arguments so its transitions are
// deterministic under test. It holds its own mutex and is independent of
// any tracker lock.
type circuitBreaker struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration

	state    CircuitState
	failures []time.Time
	openedAt time.Time
	probing  bool
}

func newCircuitBreaker(threshold int, window, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     CircuitClosed,
	}
}

// Allow reports whether a dispatch to the subscriber may proceed at the
// given time. While open, it admits a single probe per cooldown expiry.
func (cb *circuitBreaker) Allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitClosed {
		return true
	}

	if cb.probing {
		// A probe is already in flight for this cooldown expiry.
		return false
	}

	if now.Sub(cb.openedAt) >= cb.cooldown {
		cb.probing = true
		return true
	}

	return false
}

// Success records a successful handler invocation, closing the circuit and
// clearing the failure history.
func (cb *circuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = cb.failures[:0]
	cb.probing = false
}

// Failure records a failed handler invocation at the given time. Returns
// true if this failure transitioned the circuit from closed to open.
func (cb *circuitBreaker) Failure(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		// A failed probe re-opens immediately for another full cooldown.
		cb.openedAt = now
		cb.probing = false
		return false
	}

	// Drop failures that have aged out of the sliding window.
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = append(kept, now)

	if len(cb.failures) >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = now
		cb.failures = cb.failures[:0]
		cb.probing = false
		return true
	}

	return false
}

// State returns the current circuit state.
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
