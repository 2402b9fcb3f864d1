package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "panelkit/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "panelkit.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestTaskInsertAndGet(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	task := Task{ID: "t1", Type: "extend", Payload: []byte(`{"user":7}`), ScheduledAt: due}
	if err := st.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != TaskPending || got.Type != "extend" || string(got.Payload) != `{"user":7}` {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.ScheduledAt.Equal(due) {
		t.Fatalf("scheduled_at: got %v want %v", got.ScheduledAt, due)
	}

	if _, err := st.GetTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDueTasksOrderAndLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		offsets := []time.Duration{-time.Minute, -3 * time.Minute, -2 * time.Minute}
		err := st.InsertTask(ctx, Task{ID: id, Type: "x", ScheduledAt: base.Add(offsets[i])})
		if err != nil {
			t.Fatalf("InsertTask %s: %v", id, err)
		}
	}
	// Not yet due.
	if err := st.InsertTask(ctx, Task{ID: "later", Type: "x", ScheduledAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("InsertTask later: %v", err)
	}

	tasks, err := st.DueTasks(ctx, base, 10)
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 due, got %d", len(tasks))
	}
	if tasks[0].ID != "a" || tasks[1].ID != "b" || tasks[2].ID != "c" {
		t.Fatalf("wrong order: %s %s %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}

	limited, err := st.DueTasks(ctx, base, 2)
	if err != nil {
		t.Fatalf("DueTasks limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2, got %d", len(limited))
	}
}

func TestCompleteTask(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.InsertTask(ctx, Task{ID: "t1", Type: "x", ScheduledAt: time.Now()}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	at := time.Now().Truncate(time.Millisecond)
	if err := st.CompleteTask(ctx, "t1", []byte(`"ok"`), at); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != TaskCompleted || string(got.Result) != `"ok"` {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.ExecutedAt == nil || !got.ExecutedAt.Equal(at) {
		t.Fatalf("executed_at: %v", got.ExecutedAt)
	}
}

func TestFailTaskTerminalAndRetry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.InsertTask(ctx, Task{ID: "t1", Type: "x", ScheduledAt: time.Now()}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	if err := st.FailTask(ctx, "t1", "try 1 failed", 1, false); err != nil {
		t.Fatalf("FailTask: %v", err)
	}
	got, _ := st.GetTask(ctx, "t1")
	if got.Status != TaskPending || got.RetryCount != 1 || got.Error != "try 1 failed" {
		t.Fatalf("after non-terminal failure: %+v", got)
	}

	if err := st.FailTask(ctx, "t1", "gave up", 3, true); err != nil {
		t.Fatalf("FailTask terminal: %v", err)
	}
	got, _ = st.GetTask(ctx, "t1")
	if got.Status != TaskFailed || got.RetryCount != 3 {
		t.Fatalf("after terminal failure: %+v", got)
	}
}

func TestCancelTaskOnlyPending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.InsertTask(ctx, Task{ID: "t1", Type: "x", ScheduledAt: time.Now()}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	ok, err := st.CancelTask(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("CancelTask: %v %v", ok, err)
	}
	got, _ := st.GetTask(ctx, "t1")
	if got.Status != TaskCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// Already terminal: no-op.
	ok, err = st.CancelTask(ctx, "t1")
	if err != nil || ok {
		t.Fatalf("second cancel: %v %v", ok, err)
	}
	// Unknown id: not an error, just false.
	ok, err = st.CancelTask(ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("cancel unknown: %v %v", ok, err)
	}
}

func TestDeleteFinishedTasks(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	if err := st.InsertTask(ctx, Task{ID: "done", Type: "x", ScheduledAt: old}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := st.CompleteTask(ctx, "done", nil, old); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if err := st.InsertTask(ctx, Task{ID: "pending", Type: "x", ScheduledAt: old}); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	n, err := st.DeleteFinishedTasks(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteFinishedTasks: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	// Pending rows are never garbage collected.
	if _, err := st.GetTask(ctx, "pending"); err != nil {
		t.Fatalf("pending row removed: %v", err)
	}
	if _, err := st.GetTask(ctx, "done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected done removed, got %v", err)
	}
}

func TestTaskStats(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, row := range []Task{
		{ID: "1", Type: "extend", ScheduledAt: now.Add(time.Minute)},
		{ID: "2", Type: "extend", ScheduledAt: now.Add(2 * time.Minute)},
		{ID: "3", Type: "notify", ScheduledAt: now},
	} {
		if err := st.InsertTask(ctx, row); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}
	if err := st.CompleteTask(ctx, "3", nil, now); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	stats, err := st.TaskStats(ctx)
	if err != nil {
		t.Fatalf("TaskStats: %v", err)
	}
	if stats.ByStatus["pending"] != 2 || stats.ByStatus["completed"] != 1 {
		t.Fatalf("by status: %+v", stats.ByStatus)
	}
	if stats.ByType["extend"] != 2 || stats.ByType["notify"] != 1 {
		t.Fatalf("by type: %+v", stats.ByType)
	}
	if !stats.NextPending.Equal(now.Add(time.Minute).Truncate(time.Millisecond)) {
		t.Fatalf("next pending: %v", stats.NextPending)
	}
}

func TestCacheTier(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	if err := st.PutCache(ctx, "inbounds:s1:list", []byte(`[1,2]`), exp); err != nil {
		t.Fatalf("PutCache: %v", err)
	}
	v, gotExp, ok, err := st.GetCache(ctx, "inbounds:s1:list")
	if err != nil || !ok {
		t.Fatalf("GetCache: %v %v", ok, err)
	}
	if string(v) != `[1,2]` || !gotExp.Equal(exp) {
		t.Fatalf("row: %s %v", v, gotExp)
	}

	// Upsert.
	if err := st.PutCache(ctx, "inbounds:s1:list", []byte(`[3]`), exp); err != nil {
		t.Fatalf("PutCache upsert: %v", err)
	}
	v, _, _, _ = st.GetCache(ctx, "inbounds:s1:list")
	if string(v) != `[3]` {
		t.Fatalf("upsert value: %s", v)
	}

	if _, _, ok, _ := st.GetCache(ctx, "missing"); ok {
		t.Fatalf("unexpected hit")
	}
}

func TestCachePrefixDeleteAndPrune(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rows := map[string]time.Time{
		"inbounds:s1:a": now.Add(time.Hour),
		"inbounds:s1:b": now.Add(-time.Minute),
		"inbounds:s2:a": now.Add(time.Hour),
		"users:s1":      now.Add(time.Hour),
	}
	for k, exp := range rows {
		if err := st.PutCache(ctx, k, []byte("v"), exp); err != nil {
			t.Fatalf("PutCache %s: %v", k, err)
		}
	}

	n, err := st.DeleteCachePrefix(ctx, "inbounds:s1:")
	if err != nil {
		t.Fatalf("DeleteCachePrefix: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if _, _, ok, _ := st.GetCache(ctx, "inbounds:s2:a"); !ok {
		t.Fatalf("other prefix must survive")
	}

	if err := st.PutCache(ctx, "expired", []byte("v"), now.Add(-time.Hour)); err != nil {
		t.Fatalf("PutCache expired: %v", err)
	}
	pruned, err := st.PruneCache(ctx, now)
	if err != nil {
		t.Fatalf("PruneCache: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
}

func TestLikePrefixEscaping(t *testing.T) {
	if got := likePrefix("a%b_c"); got != `a\%b\_c%` {
		t.Fatalf("likePrefix = %q", got)
	}
}
