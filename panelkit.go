package panelkit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"panelkit/internal/cache"
	"panelkit/internal/config"
	"panelkit/internal/eventbus"
	"panelkit/internal/resilience"
	"panelkit/internal/storage"
	"panelkit/internal/task/scheduler"
	"panelkit/internal/upstream"
	logx "panelkit/pkg/logx"
)

// Runtime bundles the long-lived pieces of the reseller backend: the
// SQLite store, the two-tier cache, the task scheduler with its
// maintenance jobs, and one protection guard per configured upstream.
type Runtime struct {
	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus
	cache *cache.Layered[json.RawMessage]
	sched *scheduler.Service

	guards map[string]*upstream.Guard[json.RawMessage]

	cacheTTL  time.Duration
	retention time.Duration

	started bool
}

// Option adjusts Runtime construction.
type Option func(*buildOpts)

type buildOpts struct {
	logins map[string]upstream.LoginFunc[json.RawMessage]
}

// WithLogin supplies the authentication function for a configured
// upstream. Upstreams without a login func are rejected by New.
func WithLogin(name string, fn upstream.LoginFunc[json.RawMessage]) Option {
	return func(o *buildOpts) {
		o.logins[name] = fn
	}
}

// New builds a Runtime from a config. The config is validated here, so
// hand-built configs get the same checks and defaulting as Load. New
// opens the store and constructs every component, but starts no
// background work; call Start.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("panelkit: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bo := buildOpts{logins: map[string]upstream.LoginFunc[json.RawMessage]{}}
	for _, o := range opts {
		o(&bo)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	})
	if err != nil {
		return nil, err
	}

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		log.Close()
		return nil, err
	}
	st, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log.With(logx.String("comp", "storage")))
	if err != nil {
		log.Close()
		return nil, err
	}

	fail := func(err error) (*Runtime, error) {
		_ = st.Close()
		log.Close()
		return nil, err
	}

	memTTL, err := config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, 5*time.Minute)
	if err != nil {
		return fail(err)
	}
	durTTL, err := config.ParseDurationOrDefault("cache.durable_ttl", cfg.Cache.DurableTTL, time.Hour)
	if err != nil {
		return fail(err)
	}
	mem := cache.New[json.RawMessage](cfg.Cache.MaxSize, memTTL)
	layered := cache.NewLayered(mem, st, durTTL, log.With(logx.String("comp", "cache")))

	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, 30*time.Second)
	if err != nil {
		return fail(err)
	}
	retention, err := config.ParseDurationOrDefault("scheduler.retention", cfg.Scheduler.Retention, 7*24*time.Hour)
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{
		PollInterval: poll,
		BatchSize:    cfg.Scheduler.BatchSize,
		MaxRetries:   cfg.Scheduler.MaxRetries,
		Timezone:     cfg.Scheduler.Timezone,
	}, st, bus, log.With(logx.String("comp", "scheduler")))

	rt := &Runtime{
		log:       log,
		store:     st,
		bus:       bus,
		cache:     layered,
		sched:     sched,
		guards:    map[string]*upstream.Guard[json.RawMessage]{},
		cacheTTL:  memTTL,
		retention: retention,
	}

	for i := range cfg.Upstreams {
		u := cfg.Upstreams[i]
		login, ok := bo.logins[u.Name]
		if !ok {
			return fail(fmt.Errorf("panelkit: no login func for upstream %q", u.Name))
		}
		g, err := buildGuard(u, login, log)
		if err != nil {
			return fail(err)
		}
		rt.guards[u.Name] = g
	}

	if err := rt.registerMaintenance(); err != nil {
		return fail(err)
	}
	return rt, nil
}

// registerMaintenance adds the built-in periodic jobs once. They live
// on the scheduler's job list and survive Start/Stop cycles.
func (r *Runtime) registerMaintenance() error {
	if err := r.sched.AddInterval("cache-cleanup", 10*time.Minute, func(ctx context.Context) error {
		n, err := r.cache.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			r.log.Debug("expired cache entries removed", logx.Int("count", n))
		}
		return nil
	}); err != nil {
		return err
	}
	return r.sched.AddCron("task-retention", "@daily", func(ctx context.Context) error {
		n, err := r.sched.CleanupOldTasks(ctx, r.retention)
		if err != nil {
			return err
		}
		if n > 0 {
			r.log.Info("old tasks removed", logx.Int("count", n))
		}
		return nil
	})
}

func buildGuard(u config.Upstream, login upstream.LoginFunc[json.RawMessage], log logx.Logger) (*upstream.Guard[json.RawMessage], error) {
	per, _ := config.ParseDurationField("per", u.Per)
	sessTTL, _ := config.ParseDurationField("session_ttl", u.SessionTTL)
	base, _ := config.ParseDurationField("base_delay", u.Retry.BaseDelay)
	max, _ := config.ParseDurationField("max_delay", u.Retry.MaxDelay)
	recov, _ := config.ParseDurationField("recovery_timeout", u.Breaker.RecoveryTimeout)

	var strat resilience.Strategy
	switch strings.ToLower(strings.TrimSpace(u.Retry.Strategy)) {
	case "linear":
		strat = resilience.StrategyLinear
	case "constant":
		strat = resilience.StrategyConstant
	default:
		strat = resilience.StrategyExponential
	}

	return upstream.New(upstream.Config{
		Name: u.Name,
		Rate: u.Rate,
		Per:  per,
		Retry: resilience.Policy{
			MaxAttempts: u.Retry.MaxAttempts,
			BaseDelay:   base,
			MaxDelay:    max,
			Strategy:    strat,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: u.Breaker.FailureThreshold,
			RecoveryTimeout:  recov,
			HalfOpenRequests: u.Breaker.HalfOpenRequests,
		},
		SessionTTL: sessTTL,
	}, login, log)
}

// Start brings up the scheduler. Idempotent, and safe to call again
// after a clean Stop.
func (r *Runtime) Start(ctx context.Context) error {
	if r.started {
		return nil
	}
	if err := r.sched.Start(ctx); err != nil {
		return err
	}
	r.started = true
	r.log.Info("runtime started", logx.Int("upstreams", len(r.guards)))
	return nil
}

// Stop drains the scheduler, bounded by ctx. The store stays open so a
// stopped Runtime can Start again. When the scheduler cannot drain in
// time, Stop returns the ctx error; call Stop again to resume the wait.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.started {
		return nil
	}
	if err := r.sched.Stop(ctx); err != nil {
		return err
	}
	r.started = false
	r.log.Info("runtime stopped")
	return nil
}

// Close stops the runtime if needed, then releases the store and the
// log sinks. The Runtime is unusable afterwards.
func (r *Runtime) Close(ctx context.Context) error {
	if err := r.Stop(ctx); err != nil {
		return err
	}
	err := r.store.Close()
	r.log.Close()
	return err
}

// Scheduler exposes the task scheduler for handler registration and
// one-shot scheduling.
func (r *Runtime) Scheduler() *scheduler.Service { return r.sched }

// Cache exposes the two-tier cache.
func (r *Runtime) Cache() *cache.Layered[json.RawMessage] { return r.cache }

// Events exposes the in-memory event bus.
func (r *Runtime) Events() eventbus.Bus { return r.bus }

// Guard returns the protection guard for a configured upstream.
func (r *Runtime) Guard(name string) (*upstream.Guard[json.RawMessage], bool) {
	g, ok := r.guards[name]
	return g, ok
}

// Logger returns the root logger so callers can derive component loggers.
func (r *Runtime) Logger() logx.Logger { return r.log }
