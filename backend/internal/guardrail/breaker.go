package guardrail

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the state of a layer's circuit breaker
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Failing, layer is skipped
	BreakerHalfOpen                     // Testing if the layer recovered
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrBreakerOpen is returned when a layer is skipped by its breaker
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker skips a layer after repeated failures so a dead dependency does
// not cost every request a full timeout.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int // 0 disables the breaker
	successThreshold int
	cooldown         time.Duration
	state            BreakerState
	failures         int
	successes        int
	lastFailure      time.Time
	now              func() time.Time
}

// NewBreaker creates a breaker that opens after failureThreshold consecutive
// failures and half-opens after cooldown
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: 2,
		cooldown:         cooldown,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// Allow reports whether the layer may run now
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failureThreshold <= 0 {
		return nil
	}
	if b.state == BreakerOpen {
		if b.now().Sub(b.lastFailure) <= b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return nil
}

// Record updates the breaker with the outcome of one layer call
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failureThreshold <= 0 {
		return
	}
	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
			b.state = BreakerOpen
		}
		return
	}

	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = BreakerClosed
			b.failures = 0
		}
		return
	}
	b.failures = 0
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns breaker statistics
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"state":    b.state.String(),
		"failures": b.failures,
	}
}
