package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "panelkit/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
//
// It gives the scheduler (and anything else that spawns loops) three things
// the bare go statement doesn't: named goroutines for logging, panic
// recovery, and a graceful Wait that the owner can bound with a context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}
}

func New(parent context.Context, log logx.Logger) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		doneCh: make(chan struct{}),
	}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Go runs fn in a named goroutine. A panic is recovered, logged, and ends
// the goroutine; it never takes the process down.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.run(name, fn)
		if err != nil && err != context.Canceled && s.ctx.Err() == nil {
			s.log.Warn("goroutine exited with error", logx.String("name", name), logx.Err(err))
		}
	}()
}

// GoRestart runs fn like Go, but restarts it (with a short backoff) if it
// returns an unexpected error or panics while the supervisor is alive.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := 250 * time.Millisecond
		for {
			err := s.run(name, fn)
			if s.ctx.Err() != nil || err == nil || err == context.Canceled {
				return
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Err(err), logx.Duration("backoff", backoff))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
		}
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panic",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	return fn(s.ctx)
}

// Wait blocks until every goroutine has exited or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
