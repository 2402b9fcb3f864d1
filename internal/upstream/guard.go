package upstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"panelkit/internal/resilience"
	"panelkit/internal/session"
	logx "panelkit/pkg/logx"
)

// LoginFunc authenticates against the upstream and returns a fresh
// credential. It is called lazily, and at most once per guard at a time.
type LoginFunc[C any] func(ctx context.Context) (C, error)

type Config struct {
	// Name identifies the upstream in logs and session keys.
	Name string

	// Rate / Per bound outbound calls to Rate per Per (burst = Rate).
	Rate int
	Per  time.Duration

	Retry   resilience.Policy
	Breaker resilience.BreakerConfig

	// SessionTTL is how long a credential stays valid after login.
	SessionTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Rate <= 0 {
		c.Rate = 10
	}
	if c.Per <= 0 {
		c.Per = time.Second
	}
	return c
}

// Guard serializes access to one upstream panel: every call waits for a
// rate limiter token, runs with a valid session credential, passes
// through the circuit breaker, and is retried per the policy. Each
// retry attempt is admitted by the breaker separately, so an upstream
// that trips mid-operation stops the remaining attempts immediately.
type Guard[C any] struct {
	name     string
	limiter  *resilience.RateLimiter
	breaker  *resilience.Breaker
	sessions *session.Store[C]
	login    LoginFunc[C]
	policy   resilience.Policy
	log      logx.Logger

	// loginMu keeps concurrent callers from stampeding the login endpoint.
	loginMu sync.Mutex
}

func New[C any](cfg Config, login LoginFunc[C], log logx.Logger) (*Guard[C], error) {
	cfg = cfg.withDefaults()
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("upstream: name is required")
	}
	if login == nil {
		return nil, errors.New("upstream: login func is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guard[C]{
		name:     name,
		limiter:  resilience.NewRateLimiter(cfg.Rate, cfg.Per),
		breaker:  resilience.NewBreaker(cfg.Breaker),
		sessions: session.New[C](cfg.SessionTTL),
		login:    login,
		policy:   cfg.Retry,
		log:      log.With(logx.String("upstream", name)),
	}, nil
}

func (g *Guard[C]) Name() string { return g.name }

// BreakerState exposes the breaker for diagnostics.
func (g *Guard[C]) BreakerState() resilience.BreakerState { return g.breaker.State() }

// InvalidateSession drops the cached credential; the next call logs in again.
func (g *Guard[C]) InvalidateSession() { g.sessions.Invalidate(g.name) }

// Do runs fn against the upstream under the full protection stack.
//
// An AuthError from fn invalidates the session and forces exactly one
// re-login within the same attempt; a second AuthError right after a
// fresh login means the credentials themselves are bad, so it is marked
// non-retryable and surfaces to the caller.
func (g *Guard[C]) Do(ctx context.Context, op string, fn func(ctx context.Context, credential C) error) error {
	if err := g.limiter.Acquire(ctx); err != nil {
		return err
	}
	return resilience.Do(ctx, g.policy, op, func(ctx context.Context) error {
		return g.attempt(ctx, fn)
	})
}

func (g *Guard[C]) attempt(ctx context.Context, fn func(ctx context.Context, credential C) error) error {
	cred, err := g.ensureSession(ctx)
	if err != nil {
		return err
	}
	err = g.breaker.Call(ctx, func(ctx context.Context) error { return fn(ctx, cred) })
	if !IsAuth(err) {
		return err
	}

	g.log.Debug("credential rejected, re-authenticating")
	g.sessions.Invalidate(g.name)
	cred, lerr := g.ensureSession(ctx)
	if lerr != nil {
		return lerr
	}
	err = g.breaker.Call(ctx, func(ctx context.Context) error { return fn(ctx, cred) })
	if IsAuth(err) {
		// Fresh login, still rejected: retrying cannot help.
		return resilience.NoRetry(err)
	}
	return err
}

// ensureSession returns the cached credential, logging in when it is
// missing or expired. The login itself passes through the breaker so an
// open circuit also blocks authentication traffic.
func (g *Guard[C]) ensureSession(ctx context.Context) (C, error) {
	if cred, ok := g.sessions.Get(g.name); ok {
		return cred, nil
	}

	g.loginMu.Lock()
	defer g.loginMu.Unlock()
	// Another caller may have logged in while we waited.
	if cred, ok := g.sessions.Get(g.name); ok {
		return cred, nil
	}

	var cred C
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		c, err := g.login(ctx)
		if err != nil {
			return err
		}
		cred = c
		return nil
	})
	if err != nil {
		var zero C
		return zero, err
	}
	g.sessions.Set(g.name, cred)
	g.log.Debug("session established")
	return cred, nil
}

// DoValue is Do for operations that produce a value.
func DoValue[C, T any](ctx context.Context, g *Guard[C], op string, fn func(ctx context.Context, credential C) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, op, func(ctx context.Context, cred C) error {
		v, err := fn(ctx, cred)
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
