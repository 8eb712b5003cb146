package events

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute, 30*time.Second)
	now := time.Now()

	if cb.Failure(now) {
		t.Error("first failure should not open circuit")
	}
	if cb.Failure(now.Add(time.Second)) {
		t.Error("second failure should not open circuit")
	}
	if !cb.Failure(now.Add(2 * time.Second)) {
		t.Error("third failure should open circuit")
	}
	if cb.State() != CircuitOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
	if cb.Allow(now.Add(3 * time.Second)) {
		t.Error("open circuit should not allow dispatch before cooldown")
	}
}

func TestCircuitBreaker_WindowExpiry(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute, 30*time.Second)
	now := time.Now()

	cb.Failure(now)
	cb.Failure(now.Add(time.Second))

	// Third failure lands outside the window for the first two, so the
	// circuit must stay closed.
	if cb.Failure(now.Add(2 * time.Minute)) {
		t.Error("failures outside the window should have aged out")
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ProbeAfterCooldown(t *testing.T) {
	cb := newCircuitBreaker(1, time.Minute, 30*time.Second)
	now := time.Now()

	cb.Failure(now)
	if cb.State() != CircuitOpen {
		t.Fatal("circuit should be open")
	}

	// One probe per cooldown expiry.
	probeTime := now.Add(31 * time.Second)
	if !cb.Allow(probeTime) {
		t.Fatal("cooldown elapsed, probe should be allowed")
	}
	if cb.Allow(probeTime) {
		t.Error("only one probe should be admitted per cooldown expiry")
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := newCircuitBreaker(1, time.Minute, 30*time.Second)
	now := time.Now()

	cb.Failure(now)
	if !cb.Allow(now.Add(time.Minute)) {
		t.Fatal("probe should be allowed")
	}

	cb.Success()
	if cb.State() != CircuitClosed {
		t.Errorf("state after probe success = %v, want closed", cb.State())
	}
	if !cb.Allow(now.Add(time.Minute)) {
		t.Error("closed circuit should allow dispatch")
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := newCircuitBreaker(1, time.Minute, 30*time.Second)
	now := time.Now()

	cb.Failure(now)
	probeTime := now.Add(time.Minute)
	if !cb.Allow(probeTime) {
		t.Fatal("probe should be allowed")
	}

	// Failed probe re-opens immediately for another full cooldown.
	cb.Failure(probeTime)
	if cb.State() != CircuitOpen {
		t.Errorf("state after probe failure = %v, want open", cb.State())
	}
	if cb.Allow(probeTime.Add(29 * time.Second)) {
		t.Error("re-opened circuit should wait a full cooldown")
	}
	if !cb.Allow(probeTime.Add(31 * time.Second)) {
		t.Error("next probe should be allowed after the new cooldown")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute, 30*time.Second)
	now := time.Now()

	cb.Failure(now)
	cb.Failure(now.Add(time.Second))
	cb.Success()

	// The failure count starts over after a success.
	if cb.Failure(now.Add(2 * time.Second)) {
		t.Error("failure after reset should not open circuit")
	}
	if cb.Failure(now.Add(3 * time.Second)) {
		t.Error("second failure after reset should not open circuit")
	}
	if !cb.Failure(now.Add(4 * time.Second)) {
		t.Error("third failure after reset should open circuit")
	}
}
