package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
)

var errFlaky = errors.New("connection reset")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func testWrapper(policy Policy, clock *fakeClock, sleeps *recordedSleeps) *Wrapper {
	return New(policy,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock.Now),
		WithSleep(sleeps.sleep),
	)
}

func TestDo_BackoffDoublesWithoutTrailingSleep(t *testing.T) {
	sleeps := &recordedSleeps{}
	w := testWrapper(Policy{MaxRetries: 3, BaseDelay: 2 * time.Second}, newFakeClock(), sleeps)

	calls := 0
	err := w.Run(context.Background(), "synchronize", func(context.Context) error {
		calls++
		return errFlaky
	})

	if !errors.Is(err, errFlaky) {
		t.Fatalf("Expected last error to propagate, got %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 attempts, got %d", calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(sleeps.delays) != len(want) {
		t.Fatalf("Expected delays %v, got %v", want, sleeps.delays)
	}
	for i := range want {
		if sleeps.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sleeps.delays[i], want[i])
		}
		if i > 0 && sleeps.delays[i] <= sleeps.delays[i-1] {
			t.Errorf("delays not strictly increasing: %v", sleeps.delays)
		}
	}
	if got := w.Breaker().State().ConsecutiveFailures; got != 1 {
		t.Errorf("Expected one counted failure per operation, got %d", got)
	}
}

func TestDo_SucceedsOnFifthAttempt(t *testing.T) {
	sleeps := &recordedSleeps{}
	w := testWrapper(Policy{MaxRetries: 5, BaseDelay: time.Millisecond}, newFakeClock(), sleeps)

	calls := 0
	got, err := Do(context.Background(), w, "get_orders", func(context.Context) (string, error) {
		calls++
		if calls < 5 {
			return "", errFlaky
		}
		return "A PAR - BUR", nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != "A PAR - BUR" {
		t.Errorf("Expected result to be returned, got %q", got)
	}
	state := w.Breaker().State()
	if state.Open || state.ConsecutiveFailures != 0 {
		t.Errorf("Expected closed breaker with zero failures, got %+v", state)
	}
}

func TestBreaker_OpensAfterThresholdAndRejects(t *testing.T) {
	clock := newFakeClock()
	w := testWrapper(Policy{MaxRetries: 0}, clock, &recordedSleeps{})

	for i := 0; i < FailureThreshold; i++ {
		if w.Breaker().State().Open {
			t.Fatalf("breaker opened early after %d failures", i)
		}
		_ = w.Run(context.Background(), "send_message", func(context.Context) error { return errFlaky })
	}
	if !w.Breaker().State().Open {
		t.Fatal("Expected breaker to be open after threshold failures")
	}

	called := false
	err := w.Run(context.Background(), "send_message", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Operation must not run while breaker is open")
	}
}

func TestBreaker_HalfOpenTrialClosesOnSuccess(t *testing.T) {
	clock := newFakeClock()
	w := testWrapper(Policy{MaxRetries: 3}, clock, &recordedSleeps{})
	for i := 0; i < FailureThreshold; i++ {
		_ = w.Run(context.Background(), "op", func(context.Context) error { return errFlaky })
	}

	clock.Advance(BreakerCooldown + time.Second)

	if err := w.Run(context.Background(), "op", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Expected trial to succeed, got %v", err)
	}
	if state := w.Breaker().State(); state.Open || state.ConsecutiveFailures != 0 {
		t.Errorf("Expected breaker reset, got %+v", state)
	}
}

func TestBreaker_HalfOpenTrialIsSingleAttempt(t *testing.T) {
	clock := newFakeClock()
	w := testWrapper(Policy{MaxRetries: 3}, clock, &recordedSleeps{})
	for i := 0; i < FailureThreshold; i++ {
		_ = w.Run(context.Background(), "op", func(context.Context) error { return errFlaky })
	}
	clock.Advance(BreakerCooldown + time.Second)

	calls := 0
	_ = w.Run(context.Background(), "op", func(context.Context) error {
		calls++
		return errFlaky
	})
	if calls != 1 {
		t.Errorf("Expected one trial attempt, got %d", calls)
	}
	state := w.Breaker().State()
	if !state.Open {
		t.Error("Expected breaker to reopen after failed trial")
	}
	if !state.LastFailureTime.Equal(clock.Now()) {
		t.Errorf("Expected cooldown restarted at %v, got %v", clock.Now(), state.LastFailureTime)
	}
}

func TestDo_PermanentErrorsAreNotRetried(t *testing.T) {
	sleeps := &recordedSleeps{}
	w := testWrapper(Policy{MaxRetries: 3, BaseDelay: time.Second}, newFakeClock(), sleeps)

	calls := 0
	err := w.Run(context.Background(), "decide_orders", func(context.Context) error {
		calls++
		return domain.ErrDecision
	})

	if !errors.Is(err, domain.ErrDecision) {
		t.Errorf("Expected ErrDecision, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected single attempt, got %d", calls)
	}
	if len(sleeps.delays) != 0 {
		t.Errorf("Expected no backoff, got %v", sleeps.delays)
	}
	if got := w.Breaker().State().ConsecutiveFailures; got != 0 {
		t.Errorf("Permanent errors must not count toward the breaker, got %d", got)
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	w := New(Policy{Timeout: 20 * time.Millisecond, MaxRetries: 0},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	err := w.Run(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, domain.ErrTransportTimeout) {
		t.Errorf("Expected ErrTransportTimeout, got %v", err)
	}
}

func TestDo_CallerCancellationIsNotCounted(t *testing.T) {
	w := New(Policy{MaxRetries: 3, BaseDelay: time.Hour},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	err := w.Run(ctx, "op", func(context.Context) error {
		cancel()
		return errFlaky
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if got := w.Breaker().State().ConsecutiveFailures; got != 0 {
		t.Errorf("Expected no counted failure, got %d", got)
	}
}
