package resilience

import (
	"context"
	"errors"
	"time"
)

// Strategy selects how the backoff delay grows between attempts.
type Strategy int

const (
	StrategyExponential Strategy = iota
	StrategyLinear
	StrategyConstant
)

func (s Strategy) String() string {
	switch s {
	case StrategyExponential:
		return "exponential"
	case StrategyLinear:
		return "linear"
	case StrategyConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Policy is an immutable retry policy, constructed once per call site.
//
// MaxAttempts is the total number of tries (first try + up to MaxAttempts-1
// retries). Retryable decides whether an error is worth another attempt; nil
// means every error is, except those wrapped with NoRetry. OnRetry is an
// optional observer invoked before each wait; whatever it does must not
// interrupt retrying, so panics from it are swallowed.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    Strategy
	Retryable   func(error) bool
	OnRetry     func(attempt int, err error, op string)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Delay computes the wait after a failed attempt (zero-indexed), capped at
// MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	var d time.Duration
	switch p.Strategy {
	case StrategyLinear:
		d = p.BaseDelay * time.Duration(attempt+1)
	case StrategyConstant:
		d = p.BaseDelay
	default:
		d = p.BaseDelay
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= p.MaxDelay {
				break
			}
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do executes fn under the policy. On exhaustion the last error is returned
// verbatim, not wrapped, so callers can still inspect the underlying failure.
// Context cancellation during a backoff wait returns ctx.Err().
//
// op names the operation for the OnRetry observer and logging.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		// Permanent failures stop immediately, unwrapped.
		var nr noRetryError
		if errors.As(err, &nr) {
			return nr.err
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		if p.OnRetry != nil {
			notifyObserver(p.OnRetry, attempt, err, op)
		}

		delay := p.Delay(attempt)
		// An explicit retry-after hint (breaker cooldown, HTTP 429) wins over
		// the computed backoff, still bounded by MaxDelay.
		var ra RetryAfterError
		if errors.As(err, &ra) {
			d := ra.RetryAfter()
			if d < 0 {
				d = 0
			}
			if d > p.MaxDelay {
				d = p.MaxDelay
			}
			delay = d
		}

		if delay > 0 {
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return ctx.Err()
			case <-tmr.C:
			}
		}
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func notifyObserver(onRetry func(int, error, string), attempt int, err error, op string) {
	defer func() { _ = recover() }()
	onRetry(attempt, err, op)
}
