package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "panelkit/pkg/logx"
)

// Store is the persistence API owned by the core: the task queue the
// scheduler drains and the durable cache tier.
type Store interface {
	// Task queue.
	InsertTask(ctx context.Context, t Task) error
	// DueTasks returns up to limit pending rows with scheduled_at <= now,
	// ordered by scheduled_at.
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)
	GetTask(ctx context.Context, id string) (Task, error)
	CompleteTask(ctx context.Context, id string, result []byte, executedAt time.Time) error
	// FailTask records a failed attempt. terminal=true marks the row failed;
	// otherwise it stays pending for the next drain pass.
	FailTask(ctx context.Context, id string, errMsg string, retryCount int, terminal bool) error
	// CancelTask flips pending -> cancelled; false when the row was not pending.
	CancelTask(ctx context.Context, id string) (bool, error)
	// DeleteFinishedTasks removes terminal rows executed before the horizon.
	DeleteFinishedTasks(ctx context.Context, before time.Time) (int, error)
	TaskStats(ctx context.Context) (TaskStats, error)

	// Durable cache tier (cache.KV).
	PutCache(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	GetCache(ctx context.Context, key string) (value []byte, expiresAt time.Time, ok bool, err error)
	DeleteCache(ctx context.Context, key string) error
	DeleteCachePrefix(ctx context.Context, prefix string) (int, error)
	PruneCache(ctx context.Context, now time.Time) (int, error)

	Close() error
}

// Open initializes the SQLite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
