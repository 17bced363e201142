package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, config Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", config, zaptest.NewLogger(t))
	cb.now = clock.now
	cb.toNewGeneration(clock.now())
	return cb, clock
}

func TestCircuitBreakerStates(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxRequests = 5
	config.Timeout = 100 * time.Millisecond
	config.Interval = 0

	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.State())
	}

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain closed, got %s", cb.State())
	}

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errors.New("upstream 503") }); err == nil {
			t.Error("Expected error, got nil")
		}
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state to be open, got %s", cb.State())
	}

	if err := cb.Execute(ctx, func() error { return nil }); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}

	clock.advance(150 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got %s", cb.State())
	}

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to be closed, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.Timeout = time.Second

	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	clock.advance(2 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open, got %s", cb.State())
	}
	_ = cb.Execute(ctx, func() error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Errorf("Expected open after half-open failure, got %s", cb.State())
	}
}

func TestCircuitBreakerMaxRequests(t *testing.T) {
	config := DefaultConfig()
	config.MaxRequests = 2
	config.FailureThreshold = 1
	config.Timeout = 100 * time.Millisecond
	config.SuccessThreshold = 5

	cb, clock := newTestBreaker(t, config)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("down") })
	clock.advance(time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if err := cb.Execute(ctx, func() error { return nil }); err != ErrTooManyRequests {
		t.Errorf("Expected too many requests error, got %v", err)
	}
}

func TestCircuitBreakerCounts(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig())
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("error") })
	_ = cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	if counts.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", counts.Requests)
	}
	if counts.TotalSuccesses != 2 {
		t.Errorf("Expected 2 successes, got %d", counts.TotalSuccesses)
	}
	if counts.TotalFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", counts.TotalFailures)
	}
}

func TestIsSuccessfulFilter(t *testing.T) {
	notFound := errors.New("not found")
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, notFound) }

	cb, _ := newTestBreaker(t, config)
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error { return notFound })
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected filtered errors to keep breaker closed, got %s", cb.State())
	}
}

func TestCancelledContextShortCircuits(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn must not run with a cancelled context")
	}
	if cb.Counts().Requests != 0 {
		t.Errorf("Expected no counted requests, got %d", cb.Counts().Requests)
	}
}

func TestStateChangeCallback(t *testing.T) {
	config := DefaultConfig()
	config.FailureThreshold = 2

	var callbackCalled bool
	var fromState, toState State
	config.OnStateChange = func(name string, from State, to State) {
		callbackCalled = true
		fromState = from
		toState = to
	}

	cb, _ := newTestBreaker(t, config)
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("error") })
	}

	if !callbackCalled {
		t.Error("Expected state change callback to be called")
	}
	if fromState != StateClosed || toState != StateOpen {
		t.Errorf("Expected transition from closed to open, got %s to %s", fromState, toState)
	}
}
