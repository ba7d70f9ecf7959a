package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(3))

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("state after 2 failures: got %v, want closed", got)
	}

	cb.RecordFailure()
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("state after 3 failures: got %v, want open", got)
	}
	if cb.Allow() {
		t.Fatal("open breaker should not allow calls")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(3))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("state: got %v, want closed (success resets counter)", got)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(10*time.Second),
		WithBreakerHalfOpenMax(2),
		WithBreakerClock(clock),
	)

	cb.RecordFailure()
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("state: got %v, want open", got)
	}

	// Advance the clock past the reset timeout.
	now = now.Add(11 * time.Second)
	if got := cb.State(); got != BreakerHalfOpen {
		t.Fatalf("state after reset timeout: got %v, want half-open", got)
	}
	if !cb.Allow() {
		t.Fatal("half-open breaker should allow a probe call")
	}

	cb.RecordSuccess()
	if got := cb.State(); got != BreakerHalfOpen {
		t.Fatalf("state after 1 success: got %v, want half-open", got)
	}
	cb.RecordSuccess()
	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("state after 2 successes: got %v, want closed", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(time.Second),
		WithBreakerClock(func() time.Time { return now }),
	)

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	if got := cb.State(); got != BreakerHalfOpen {
		t.Fatalf("state: got %v, want half-open", got)
	}

	cb.RecordFailure()
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("state after half-open failure: got %v, want open", got)
	}
}

func TestBreaker_Do(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	errFail := errors.New("fail")

	err := cb.Do(context.Background(), "hook", func(context.Context) error { return errFail })
	if !errors.Is(err, errFail) {
		t.Fatalf("first call error: got %v, want %v", err, errFail)
	}

	// Breaker is now open: fn must not run.
	called := false
	err = cb.Do(context.Background(), "hook", func(context.Context) error {
		called = true
		return nil
	})
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("second call error: got %v, want ErrCircuitOpen", err)
	}
	if open.Endpoint != "hook" {
		t.Fatalf("endpoint: got %q, want %q", open.Endpoint, "hook")
	}
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: got %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	errFail := errors.New("persistent")
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, nil, func(context.Context) error {
		calls++
		return errFail
	})
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
	if calls != 3 {
		t.Fatalf("calls: got %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestRetry_StopsOnCircuitOpen(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, nil, func(context.Context) error {
		calls++
		return &ErrCircuitOpen{Endpoint: "hook"}
	})
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("error: got %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1 (no retry on open circuit)", calls)
	}
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, 50*time.Millisecond, nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}
