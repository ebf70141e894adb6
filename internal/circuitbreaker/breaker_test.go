package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

const host = "eproc.rajasthan.gov.in"

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := New(threshold, cooldown)
	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreaker_ClosedByDefault(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	if err := cb.Allow(host); err != nil {
		t.Errorf("new breaker should allow, got %v", err)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	cb.RecordFailure(host)
	cb.RecordFailure(host)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("breaker opened below threshold: %v", err)
	}

	cb.RecordFailure(host)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen after 3 failures, got %v", err)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure(host)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open state, got %v", err)
	}

	// After the cooldown exactly one probe passes.
	*now = now.Add(time.Minute)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("expected half-open probe to pass, got %v", err)
	}
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second request during half-open should be denied, got %v", err)
	}
}

func TestBreaker_SuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure(host)
	*now = now.Add(time.Minute)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("probe denied: %v", err)
	}

	cb.RecordSuccess(host)
	if err := cb.Allow(host); err != nil {
		t.Errorf("breaker should close after a successful probe, got %v", err)
	}

	// Failure streak restarts from zero after closing.
	cb.RecordFailure(host)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("threshold-1 breaker should reopen on next failure, got %v", err)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure(host)
	*now = now.Add(time.Minute)
	if err := cb.Allow(host); err != nil {
		t.Fatalf("probe denied: %v", err)
	}

	cb.RecordFailure(host)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("failed probe should reopen the breaker, got %v", err)
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	cb.RecordFailure(host)
	if err := cb.Allow(host); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open for %s", host)
	}
	if err := cb.Allow("other.example.com"); err != nil {
		t.Errorf("unrelated key should remain closed, got %v", err)
	}
}
