package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrNotFound is returned by single-row lookups for unknown task ids.
	ErrNotFound = errors.New("task not found")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// TaskStatus is the lifecycle state of a persisted one-shot task.
//
// Only pending tasks are eligible for execution. completed, cancelled and
// failed are terminal: immutable except for retention cleanup.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// Task is one row of the persisted task queue.
type Task struct {
	ID          string
	Type        string
	Payload     []byte
	Status      TaskStatus
	ScheduledAt time.Time
	ExecutedAt  *time.Time
	Result      []byte
	Error       string
	RetryCount  int
}

// TaskStats summarizes the queue for diagnostics.
type TaskStats struct {
	ByStatus map[string]int
	ByType   map[string]int

	// NextPending is the earliest scheduled_at among pending rows (zero if none).
	NextPending time.Time
}
