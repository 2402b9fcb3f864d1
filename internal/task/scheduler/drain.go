package scheduler

import (
	"context"
	"fmt"
	"time"

	"panelkit/internal/eventbus"
	"panelkit/internal/storage"
	logx "panelkit/pkg/logx"
)

type panicError struct{ val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.val) }

// drainLoop polls the queue every PollInterval until the context ends.
// One pass runs immediately on startup so tasks that came due while the
// process was down are not delayed by a full interval.
func (s *Service) drainLoop(ctx context.Context) error {
	s.drainOnce(ctx)

	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.drainOnce(ctx)
		}
	}
}

// drainOnce picks up one batch of due rows and executes them in order.
// Rows that fail non-terminally stay pending and are reselected on a
// later pass, so a retry never blocks the rest of the batch.
func (s *Service) drainOnce(ctx context.Context) {
	tasks, err := s.db.DueTasks(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("task drain query failed", logx.Err(err))
		return
	}
	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		s.executeOne(ctx, t)
	}
}

func (s *Service) executeOne(ctx context.Context, t storage.Task) {
	s.hmu.RLock()
	h, ok := s.handlers[t.Type]
	s.hmu.RUnlock()

	if !ok {
		// No retry budget spent on a type nobody registered.
		msg := fmt.Sprintf("no handler registered for type %q", t.Type)
		if err := s.db.FailTask(ctx, t.ID, msg, t.RetryCount, true); err != nil {
			s.log.Warn("task update failed", logx.String("id", t.ID), logx.Err(err))
			return
		}
		s.log.Warn("task skipped", logx.String("id", t.ID), logx.String("type", t.Type))
		s.publish(eventbus.TaskSkipped, eventbus.TaskEvent{ID: t.ID, TaskType: t.Type, Error: msg})
		return
	}

	start := s.now()
	result, err := runHandler(ctx, h, t.Payload)
	if err == nil {
		if err := s.db.CompleteTask(ctx, t.ID, result, s.now()); err != nil {
			s.log.Warn("task update failed", logx.String("id", t.ID), logx.Err(err))
			return
		}
		s.log.Debug("task completed",
			logx.String("id", t.ID),
			logx.String("type", t.Type),
			logx.Duration("took", time.Since(start)),
		)
		s.publish(eventbus.TaskCompleted, eventbus.TaskEvent{ID: t.ID, TaskType: t.Type})
		return
	}

	retries := t.RetryCount + 1
	terminal := retries >= s.cfg.MaxRetries
	if uerr := s.db.FailTask(ctx, t.ID, err.Error(), retries, terminal); uerr != nil {
		s.log.Warn("task update failed", logx.String("id", t.ID), logx.Err(uerr))
		return
	}
	if terminal {
		s.log.Warn("task failed",
			logx.String("id", t.ID),
			logx.String("type", t.Type),
			logx.Int("attempts", retries),
			logx.Err(err),
		)
		s.publish(eventbus.TaskFailed, eventbus.TaskEvent{ID: t.ID, TaskType: t.Type, Error: err.Error()})
		return
	}
	s.log.Debug("task attempt failed, will retry",
		logx.String("id", t.ID),
		logx.String("type", t.Type),
		logx.Int("attempt", retries),
		logx.Err(err),
	)
}

func runHandler(ctx context.Context, h Handler, payload []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{val: r}
		}
	}()
	return h(ctx, payload)
}
