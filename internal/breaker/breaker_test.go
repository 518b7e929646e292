package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/conveyor/internal/domain"
)

var errDependency = errors.New("dependency down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock — управляемое время для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := New("test-dep", cfg, testLogger())
	cb.now = clock.Now
	return cb, clock
}

func ok(context.Context) (any, error)   { return "ok", nil }
func fail(context.Context) (any, error) { return nil, errDependency }

// --- FSM Tests ---

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cb.Call(ctx, fail); !errors.Is(err, errDependency) {
			t.Fatalf("call %d: expected dependency error, got %v", i, err)
		}
	}

	if cb.State() != domain.CircuitOpen {
		t.Fatalf("expected OPEN, got %s", cb.State())
	}

	invoked := false
	_, err := cb.Call(ctx, func(context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("wrapped function must not be invoked while OPEN")
	}
	if cb.Stats().Rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", cb.Stats().Rejected)
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 3})
	ctx := context.Background()

	cb.Call(ctx, fail)
	cb.Call(ctx, fail)
	cb.Call(ctx, ok)
	cb.Call(ctx, fail)
	cb.Call(ctx, fail)

	if cb.State() != domain.CircuitClosed {
		t.Errorf("expected CLOSED, got %s", cb.State())
	}
	if cb.Stats().ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", cb.Stats().ConsecutiveFailures)
	}
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 2})
	ctx := context.Background()

	cb.Call(ctx, fail)
	if cb.State() != domain.CircuitOpen {
		t.Fatalf("expected OPEN, got %s", cb.State())
	}

	clock.Advance(time.Second)

	if _, err := cb.Call(ctx, ok); err != nil {
		t.Fatalf("trial call should be permitted: %v", err)
	}
	if cb.State() != domain.CircuitHalfOpen {
		t.Fatalf("expected HALF_OPEN after first trial, got %s", cb.State())
	}

	if _, err := cb.Call(ctx, ok); err != nil {
		t.Fatalf("second trial should be permitted: %v", err)
	}
	if cb.State() != domain.CircuitClosed {
		t.Fatalf("expected CLOSED, got %s", cb.State())
	}

	stats := cb.Stats()
	if stats.ConsecutiveFailures != 0 {
		t.Errorf("counters should reset on close, got %d", stats.ConsecutiveFailures)
	}
	if stats.StateChanges != 3 {
		t.Errorf("expected 3 state changes, got %d", stats.StateChanges)
	}
	if stats.OpenSince != nil {
		t.Error("open_since should be cleared on close")
	}
}

func TestBreaker_HalfOpenFailureReopensWithTimerReset(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 3})
	ctx := context.Background()

	cb.Call(ctx, fail)
	firstOpen := *cb.Stats().OpenSince

	clock.Advance(2 * time.Second)

	cb.Call(ctx, ok)
	if _, err := cb.Call(ctx, fail); !errors.Is(err, errDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	if cb.State() != domain.CircuitOpen {
		t.Fatalf("expected OPEN, got %s", cb.State())
	}
	if !cb.Stats().OpenSince.After(firstOpen) {
		t.Error("open_since should be reset on reopen")
	}

	clock.Advance(500 * time.Millisecond)
	if _, err := cb.Call(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected fast-fail within new recovery window, got %v", err)
	}
}

func TestBreaker_HalfOpenLimitsConcurrentTrials(t *testing.T) {
	cb, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	cb.Call(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		cb.Call(ctx, func(context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()

	<-started
	if _, err := cb.Call(ctx, ok); !errors.Is(err, ErrTooManyCalls) {
		t.Errorf("expected ErrTooManyCalls, got %v", err)
	}

	close(release)
	<-done

	if cb.State() != domain.CircuitClosed {
		t.Errorf("expected CLOSED, got %s", cb.State())
	}
}

func TestBreaker_CancelledCallIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Call(ctx, func(ctx context.Context) (any, error) {
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != domain.CircuitClosed {
		t.Errorf("cancellation should not open the circuit, got %s", cb.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx := context.Background()

	cb.Call(ctx, fail)
	cb.Reset()

	if cb.State() != domain.CircuitClosed {
		t.Errorf("expected CLOSED after reset, got %s", cb.State())
	}
	if _, err := cb.Call(ctx, ok); err != nil {
		t.Errorf("call after reset should pass: %v", err)
	}
}

func TestBreaker_ResetDiscardsEarlierCalls(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb.Call(ctx, func(context.Context) (any, error) {
			close(started)
			<-release
			return nil, errors.New("boom")
		})
	}()

	<-started
	cb.Reset()
	close(release)
	<-done

	if cb.State() != domain.CircuitClosed {
		t.Errorf("failure admitted before reset must not open the circuit, got %s", cb.State())
	}
}

func TestBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 10})
	ctx := context.Background()

	cb.Call(ctx, ok)
	cb.Call(ctx, ok)
	cb.Call(ctx, ok)
	cb.Call(ctx, fail)

	s := cb.Stats()
	if s.TotalCalls != 4 || s.Successes != 3 || s.Failures != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.SuccessRate != 0.75 {
		t.Errorf("expected success rate 0.75, got %v", s.SuccessRate)
	}
}

// --- Manager Tests ---

func TestManager_GetCreatesOnce(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: testLogger()})

	a := m.Get("feed")
	b := m.Get("feed")
	if a != b {
		t.Error("Get should return the same breaker for the same name")
	}
	if len(m.Names()) != 1 {
		t.Errorf("expected 1 breaker, got %d", len(m.Names()))
	}
}

func TestManager_CallIsolatesDependencies(t *testing.T) {
	m := NewManager(ManagerConfig{Default: Config{FailureThreshold: 1}, Logger: testLogger()})
	ctx := context.Background()

	m.Call(ctx, "broken", fail)

	if _, err := m.Call(ctx, "broken", ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected broken dependency to be open, got %v", err)
	}
	if _, err := m.Call(ctx, "healthy", ok); err != nil {
		t.Errorf("other dependency should not be affected: %v", err)
	}

	stats := m.AllStats()
	if stats["broken"].State != domain.CircuitOpen || stats["healthy"].State != domain.CircuitClosed {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	m := NewManager(ManagerConfig{MaxOpenDuration: time.Minute, Logger: testLogger()})
	ctx := context.Background()

	if h := m.HealthCheck(); h.Status != domain.HealthHealthy {
		t.Errorf("empty manager should be healthy, got %s", h.Status)
	}

	cb, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	m.breakers[cb.Name()] = cb
	cb.Call(ctx, fail)

	if h := m.HealthCheck(); h.Status != domain.HealthDegraded {
		t.Errorf("open breaker should degrade health, got %s", h.Status)
	}
	if !m.Healthy() {
		t.Error("recently opened breaker should still be healthy")
	}

	clock.Advance(2 * time.Minute)

	h := m.HealthCheck()
	if h.Status != domain.HealthUnhealthy {
		t.Errorf("breaker open past bound should be unhealthy, got %s", h.Status)
	}
	if len(h.Stale) != 1 || h.Stale[0] != "test-dep" {
		t.Errorf("unexpected stale list: %v", h.Stale)
	}
	if m.Healthy() {
		t.Error("Healthy should be false")
	}
}

func TestManager_Register(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: testLogger()})
	cb := m.Register("custom", Config{FailureThreshold: 2})

	if m.Get("custom") != cb {
		t.Error("Get should return registered breaker")
	}
	if cb.cfg.FailureThreshold != 2 {
		t.Errorf("expected threshold 2, got %d", cb.cfg.FailureThreshold)
	}
}
