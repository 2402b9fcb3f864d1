package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	logx "panelkit/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- task queue ----

func (s *sqliteStore) InsertTask(ctx context.Context, t Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks(id, task_type, payload, status, scheduled_at, retry_count)
		 VALUES(?,?,?,?,?,?)`,
		t.ID, t.Type, nullBytes(t.Payload), string(t.Status), t.ScheduledAt.UnixMilli(), t.RetryCount,
	)
	return err
}

func (s *sqliteStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_type, payload, status, scheduled_at, executed_at, result, error, retry_count
		 FROM scheduled_tasks
		 WHERE status = 'pending' AND scheduled_at <= ?
		 ORDER BY scheduled_at
		 LIMIT ?`,
		now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (Task, error) {
	if s == nil || s.db == nil {
		return Task{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_type, payload, status, scheduled_at, executed_at, result, error, retry_count
		 FROM scheduled_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) CompleteTask(ctx context.Context, id string, result []byte, executedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks
		 SET status = 'completed', executed_at = ?, result = ?, error = NULL
		 WHERE id = ?`,
		executedAt.UnixMilli(), nullBytes(result), id,
	)
	return err
}

func (s *sqliteStore) FailTask(ctx context.Context, id string, errMsg string, retryCount int, terminal bool) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	status := TaskPending
	if terminal {
		status = TaskFailed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks
		 SET status = ?, error = ?, retry_count = ?
		 WHERE id = ?`,
		string(status), errMsg, retryCount, id,
	)
	return err
}

func (s *sqliteStore) CancelTask(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET status = 'cancelled'
		 WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) DeleteFinishedTasks(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	// Rows that never executed (cancelled) fall back to scheduled_at for age.
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_tasks
		 WHERE status IN ('completed','cancelled','failed')
		 AND COALESCE(executed_at, scheduled_at) < ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) TaskStats(ctx context.Context) (TaskStats, error) {
	stats := TaskStats{ByStatus: map[string]int{}, ByType: map[string]int{}}
	if s == nil || s.db == nil {
		return stats, ErrDisabled
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM scheduled_tasks GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return stats, err
		}
		stats.ByStatus[st] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	trows, err := s.db.QueryContext(ctx,
		`SELECT task_type, COUNT(*) FROM scheduled_tasks GROUP BY task_type`)
	if err != nil {
		return stats, err
	}
	defer trows.Close()
	for trows.Next() {
		var tt string
		var n int
		if err := trows.Scan(&tt, &n); err != nil {
			return stats, err
		}
		stats.ByType[tt] = n
	}
	if err := trows.Err(); err != nil {
		return stats, err
	}

	var nextMS sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(scheduled_at) FROM scheduled_tasks WHERE status = 'pending'`).Scan(&nextMS)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, err
	}
	if nextMS.Valid {
		stats.NextPending = time.UnixMilli(nextMS.Int64)
	}
	return stats, nil
}

// ---- durable cache tier ----

func (s *sqliteStore) PutCache(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache(key, value, expires_at, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at, created_at=excluded.created_at`,
		key, value, expiresAt.UnixMilli(), now,
	)
	return err
}

func (s *sqliteStore) GetCache(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	if s == nil || s.db == nil {
		return nil, time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return nil, time.Time{}, false, nil
	}
	var value []byte
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM cache WHERE key = ?`, key).Scan(&value, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return value, time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) DeleteCache(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) DeleteCachePrefix(ctx context.Context, prefix string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) PruneCache(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var t Task
	var status string
	var schedMS int64
	var execMS sql.NullInt64
	var errMsg sql.NullString
	if err := r.Scan(&t.ID, &t.Type, &t.Payload, &status, &schedMS, &execMS, &t.Result, &errMsg, &t.RetryCount); err != nil {
		return Task{}, err
	}
	t.Status = TaskStatus(status)
	t.ScheduledAt = time.UnixMilli(schedMS)
	if execMS.Valid {
		at := time.UnixMilli(execMS.Int64)
		t.ExecutedAt = &at
	}
	t.Error = errMsg.String
	return t, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// likePrefix escapes LIKE metacharacters so prefix matches literally.
func likePrefix(prefix string) string {
	out := make([]byte, 0, len(prefix)+3)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(append(out, '%'))
}
