package resilience

import (
	"errors"
	"fmt"
	"time"
)

// NoRetry marks an error as non-retryable.
//
// Callers can wrap validation errors or other permanent failures with NoRetry
// so the retry executor won't waste attempts on them.
//
// Example:
//
//	return resilience.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfterError is implemented by errors that carry an explicit retry delay.
//
// This is useful when the downstream system returns a Retry-After value
// (e.g., HTTP 429), and it is how an open circuit breaker tells the retry
// executor how long the remaining cooldown is. The executor respects the
// hint, bounded by the policy's MaxDelay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// RetryAfter attaches a suggested delay to err.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string {
	return fmt.Sprintf("retry-after(%s): %v", e.after, e.err)
}
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// BreakerOpenError is returned when a circuit breaker rejects a call without
// invoking the wrapped operation. Remaining is the cooldown left until the
// breaker will allow a trial call, so callers can back off intelligently.
type BreakerOpenError struct {
	Remaining time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open: retry after %s", e.Remaining)
}

func (e *BreakerOpenError) RetryAfter() time.Duration { return e.Remaining }

// IsBreakerOpen reports whether err is a breaker rejection.
func IsBreakerOpen(err error) bool {
	var e *BreakerOpenError
	return errors.As(err, &e)
}
