package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"panelkit/internal/storage"
)

// RegisterHandler binds a handler to a task type. Registering the same
// type twice replaces the previous handler.
func (s *Service) RegisterHandler(taskType string, h Handler) error {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return errors.New("scheduler: task type is required")
	}
	if h == nil {
		return errors.New("scheduler: handler is nil")
	}
	s.hmu.Lock()
	s.handlers[taskType] = h
	s.hmu.Unlock()
	return nil
}

// AddInterval registers a periodic job that runs every `every`.
func (s *Service) AddInterval(name string, every time.Duration, fn Job) error {
	if every <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", every)
	}
	return s.AddCron(name, "@every "+every.String(), fn)
}

// AddCron registers a periodic job under a cron spec (5 or 6 fields, or
// a descriptor such as "@daily"). Jobs added while the service runs are
// picked up immediately.
func (s *Service) AddCron(name, spec string, fn Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: job name is required")
	}
	if fn == nil {
		return errors.New("scheduler: job func is nil")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: bad cron spec %q: %w", spec, err)
	}

	def := jobDef{name: name, spec: spec, fn: fn}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("scheduler: job %q already registered", name)
		}
	}
	s.jobs = append(s.jobs, def)
	if s.running {
		s.registerJob(def)
	}
	return nil
}

// Schedule persists a one-shot task due at `at` and returns its id.
// The task survives restarts; it executes on the first drain pass at or
// after its due time.
func (s *Service) Schedule(ctx context.Context, taskType string, payload []byte, at time.Time) (string, error) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return "", errors.New("scheduler: task type is required")
	}
	id := uuid.NewString()
	err := s.db.InsertTask(ctx, storage.Task{
		ID:          id,
		Type:        taskType,
		Payload:     payload,
		Status:      storage.TaskPending,
		ScheduledAt: at,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Cancel flips a pending task to cancelled. It reports false when the
// task was already picked up, finished, or does not exist.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	return s.db.CancelTask(ctx, id)
}

// Task returns one row of the queue by id.
func (s *Service) Task(ctx context.Context, id string) (storage.Task, error) {
	return s.db.GetTask(ctx, id)
}

// CleanupOldTasks deletes terminal rows older than the retention window
// and returns how many were removed.
func (s *Service) CleanupOldTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("scheduler: retention must be positive, got %s", olderThan)
	}
	return s.db.DeleteFinishedTasks(ctx, s.now().Add(-olderThan))
}

// Stats summarizes the queue.
func (s *Service) Stats(ctx context.Context) (storage.TaskStats, error) {
	return s.db.TaskStats(ctx)
}
