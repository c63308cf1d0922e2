// Package resilience wraps fallible network calls with a per-attempt timeout,
// exponential backoff retries and a circuit breaker.
package resilience

import (
	"sync"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
)

const (
	// FailureThreshold is the number of consecutive failed operations that opens the breaker.
	FailureThreshold = 5
	// BreakerCooldown is how long an open breaker rejects calls before allowing a trial.
	BreakerCooldown = 60 * time.Second
)

// BreakerState is a point-in-time copy of the breaker counters.
type BreakerState struct {
	Open                bool      `json:"open"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
}

// Breaker tracks consecutive operation failures. The zero value is not usable;
// construct it through New.
type Breaker struct {
	mu                  sync.Mutex
	open                bool
	trialInFlight       bool
	consecutiveFailures int
	lastFailureTime     time.Time
	now                 func() time.Time
}

func newBreaker(now func() time.Time) *Breaker {
	return &Breaker{now: now}
}

// allow reports whether a call may proceed. trial is true when the call is the
// single trial call admitted after the cooldown elapsed.
func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false, nil
	}
	if b.trialInFlight || b.now().Sub(b.lastFailureTime) <= BreakerCooldown {
		return false, domain.ErrCircuitOpen
	}
	b.trialInFlight = true
	return true, nil
}

func (b *Breaker) recordSuccess() (wasOpen bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasOpen = b.open
	b.consecutiveFailures = 0
	b.open = false
	b.trialInFlight = false
	return wasOpen
}

func (b *Breaker) recordFailure() (opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false
	b.consecutiveFailures++
	if b.consecutiveFailures >= FailureThreshold {
		b.open = true
		b.lastFailureTime = b.now()
		return true
	}
	return false
}

// release ends a trial without a verdict, e.g. when the caller gave up.
func (b *Breaker) release() {
	b.mu.Lock()
	b.trialInFlight = false
	b.mu.Unlock()
}

// State returns a copy of the breaker counters.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		Open:                b.open,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
	}
}
