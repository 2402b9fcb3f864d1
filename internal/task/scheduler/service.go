package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"panelkit/internal/eventbus"
	rtsup "panelkit/internal/runtime/supervisor"
	"panelkit/internal/storage"
	logx "panelkit/pkg/logx"
)

func New(cfg Config, db storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
		db:  db,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		handlers: map[string]Handler{},
		now:      time.Now,
	}
}

// Start brings up the cron runner and the queue drain loop. Calling
// Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	loc, err := s.loadLocation()
	if err != nil {
		return err
	}

	s.sup = rtsup.New(ctx, s.log)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, def := range s.jobs {
		s.registerJob(def)
	}
	s.c.Start()

	s.sup.GoRestart("task-drain", s.drainLoop)
	s.running = true
	s.log.Info("scheduler started",
		logx.String("tz", loc.String()),
		logx.Duration("poll", s.cfg.PollInterval),
		logx.Int("jobs", len(s.jobs)),
	)
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs and the drain
// loop to finish, bounded by ctx. When ctx expires first, Stop returns
// its error with shutdown still in progress; calling Stop again resumes
// the wait, and no new work starts in between.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.c
	sup := s.sup
	s.mu.Unlock()

	// Cancel the job context first: in-flight jobs blocked on their ctx
	// must see the shutdown before cron waits for them to return.
	sup.Cancel()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := sup.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.c = nil
	s.sup = nil
	s.running = false
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Service) loadLocation() (*time.Location, error) {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// registerJob wires one periodic definition into the running cron.
// Caller holds s.mu.
func (s *Service) registerJob(def jobDef) {
	sup := s.sup
	_, err := s.c.AddFunc(def.spec, func() {
		jctx := sup.Context()
		start := time.Now()
		err := runJob(jctx, def.fn)
		if err != nil {
			s.log.Warn("periodic job failed",
				logx.String("job", def.name),
				logx.Duration("took", time.Since(start)),
				logx.Err(err),
			)
			s.publish(eventbus.JobFailed, eventbus.JobEvent{Job: def.name, Error: err.Error()})
			return
		}
		s.log.Debug("periodic job done",
			logx.String("job", def.name),
			logx.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		// Specs are validated at Add time, so this only fires when a
		// definition predates a timezone change and no longer parses.
		s.log.Error("cron registration failed", logx.String("job", def.name), logx.String("spec", def.spec), logx.Err(err))
	}
}

func runJob(ctx context.Context, fn Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{val: r}
		}
	}()
	return fn(ctx)
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
