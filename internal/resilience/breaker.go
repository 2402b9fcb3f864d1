package resilience

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the breaker thresholds. Zero fields get defaults.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// RecoveryTimeout is the cooldown before a trial call is allowed.
	RecoveryTimeout time.Duration
	// HalfOpenRequests consecutive trial successes close the breaker again.
	HalfOpenRequests int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = 3
	}
	return c
}

// Breaker is a three-state failure-isolation guard around one flaky
// dependency. Create exactly one per guarded upstream.
//
// The admission decision (including the Open→HalfOpen transition) and the
// post-call bookkeeping each run under the mutex, so concurrent callers see
// a consistent state; the mutex is NOT held while the wrapped operation runs.
type Breaker struct {
	cfg BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failures        int
	lastFailure     time.Time
	halfOpenSuccess int

	now func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   time.Now,
	}
}

// State reports the current state. Cooldown transitions happen at call
// time, so an Open breaker stays Open here even after the timeout elapses.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures reports the consecutive-failure counter.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Call executes fn through the breaker. While Open it returns
// *BreakerOpenError carrying the remaining cooldown without invoking fn.
// fn's own error is passed through unchanged.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.cfg.RecoveryTimeout {
			return &BreakerOpenError{Remaining: b.cfg.RecoveryTimeout - elapsed}
		}
		b.state = StateHalfOpen
		b.halfOpenSuccess = 0
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == StateHalfOpen {
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.cfg.HalfOpenRequests {
				b.state = StateClosed
				b.failures = 0
			}
			return
		}
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		// A single trial failure re-opens immediately.
		b.state = StateOpen
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
}
