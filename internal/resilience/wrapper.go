package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
)

// Policy configures retries for one Wrapper.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultPolicy returns the default connection policy.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
	}
}

// Wrapper is the only path by which a session performs network calls.
// Each session owns exactly one Wrapper.
type Wrapper struct {
	policy  Policy
	breaker *Breaker
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// Option customizes a Wrapper.
type Option func(*Wrapper)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wrapper) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the breaker clock.
func WithClock(now func() time.Time) Option {
	return func(w *Wrapper) {
		if now != nil {
			w.breaker.now = now
		}
	}
}

// WithSleep overrides how backoff delays are waited out.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(w *Wrapper) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// New creates a Wrapper with its own circuit breaker.
func New(policy Policy, opts ...Option) *Wrapper {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	w := &Wrapper{
		policy:  policy,
		breaker: newBreaker(time.Now),
		logger:  slog.Default(),
		sleep:   Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Policy returns the retry policy.
func (w *Wrapper) Policy() Policy {
	return w.policy
}

// Breaker exposes the breaker for inspection.
func (w *Wrapper) Breaker() *Breaker {
	return w.breaker
}

// Run executes fn under the wrapper and returns its final error.
func (w *Wrapper) Run(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, w, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do executes fn with a per-attempt timeout, retrying failures with
// exponential backoff (BaseDelay * 2^attempt, no wait after the last attempt).
// Exhausting all attempts counts as one breaker failure and returns the last
// error. Permanent errors and caller cancellation return immediately without
// touching the failure count.
func Do[T any](ctx context.Context, w *Wrapper, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	trial, err := w.breaker.allow()
	if err != nil {
		w.logger.Warn("Operation rejected by circuit breaker", "operation", op)
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	if trial {
		w.logger.Info("Circuit breaker cooldown expired, allowing trial operation", "operation", op)
	}

	attempts := w.policy.MaxRetries + 1
	if trial {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := runAttempt(ctx, w.policy.Timeout, fn)
		if err == nil {
			if w.breaker.recordSuccess() {
				w.logger.Info("Operation successful, closing circuit breaker", "operation", op)
			}
			return result, nil
		}

		if ctx.Err() != nil {
			w.breaker.release()
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if domain.IsPermanent(err) {
			w.breaker.release()
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		lastErr = err
		w.logger.Warn("Operation attempt failed",
			"operation", op,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err,
		)

		if attempt < attempts-1 {
			delay := backoffDelay(w.policy.BaseDelay, attempt)
			w.logger.Info("Retrying operation", "operation", op, "attempt", attempt+1, "delay", delay)
			if err := w.sleep(ctx, delay); err != nil {
				w.breaker.release()
				return zero, fmt.Errorf("%s: %w", op, err)
			}
		}
	}

	if w.breaker.recordFailure() {
		w.logger.Error("Opening circuit breaker due to repeated failures",
			"operation", op,
			"consecutive_failures", w.breaker.State().ConsecutiveFailures,
		)
	}
	w.logger.Error("Operation failed after retries", "operation", op, "attempts", attempts, "error", lastErr)
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<attempt)
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt bounds fn by timeout even if fn ignores its context.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res.value, fmt.Errorf("%w: %w", domain.ErrTransportTimeout, res.err)
		}
		return res.value, res.err
	case <-attemptCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", domain.ErrTransportTimeout, timeout)
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
