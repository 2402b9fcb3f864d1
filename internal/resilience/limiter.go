package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is token-bucket admission control for one upstream: a burst of
// up to `n` tokens, replenished continuously at n/per tokens per unit time.
//
// Acquire suspends the caller until a token is available. No maximum wait is
// enforced here; callers impose their own deadline through ctx. Waiters are
// not served in FIFO order.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows n acquisitions per `per`.
func NewRateLimiter(n int, per time.Duration) *RateLimiter {
	if n <= 0 {
		n = 1
	}
	if per <= 0 {
		per = time.Second
	}
	return &RateLimiter{
		lim: rate.NewLimiter(rate.Limit(float64(n)/per.Seconds()), n),
	}
}

// Acquire consumes one token, suspending until one is available.
// The only error it can return is ctx.Err().
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.lim.Wait(ctx)
}

// Allow consumes a token without waiting; false means the bucket is empty.
func (r *RateLimiter) Allow() bool {
	return r.lim.Allow()
}
