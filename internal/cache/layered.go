package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logx "panelkit/pkg/logx"
)

// KV is the durable tier behind a Layered cache. internal/storage implements
// it over the cache table.
type KV interface {
	PutCache(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	GetCache(ctx context.Context, key string) (value []byte, expiresAt time.Time, ok bool, err error)
	DeleteCache(ctx context.Context, key string) error
	DeleteCachePrefix(ctx context.Context, prefix string) (int, error)
	PruneCache(ctx context.Context, now time.Time) (int, error)
}

// Layered puts the in-process Cache in front of a durable key/value tier so
// hot panel responses survive a restart. Values cross the durable boundary
// as JSON.
//
// Read path: memory first; then the store, refilling memory on a fresh row
// and deleting the row on the spot when it has expired.
type Layered[V any] struct {
	mem *Cache[V]
	kv  KV
	ttl time.Duration
	log logx.Logger

	now func() time.Time
}

func NewLayered[V any](mem *Cache[V], kv KV, defaultTTL time.Duration, log logx.Logger) *Layered[V] {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Layered[V]{mem: mem, kv: kv, ttl: defaultTTL, log: log, now: time.Now}
}

func (l *Layered[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if v, ok := l.mem.Get(key); ok {
		return v, true, nil
	}

	raw, expiresAt, ok, err := l.kv.GetCache(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("cache: durable get %q: %w", key, err)
	}
	if !ok {
		return zero, false, nil
	}

	now := l.now()
	if !expiresAt.After(now) {
		if derr := l.kv.DeleteCache(ctx, key); derr != nil {
			l.log.Warn("cache: delete expired row failed", logx.String("key", key), logx.Err(derr))
		}
		return zero, false, nil
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		// A row we can't decode is useless; drop it rather than erroring
		// every read until it expires.
		_ = l.kv.DeleteCache(ctx, key)
		return zero, false, fmt.Errorf("cache: decode %q: %w", key, err)
	}

	l.mem.SetTTL(key, v, time.Until(expiresAt))
	return v, true, nil
}

func (l *Layered[V]) Set(ctx context.Context, key string, value V) error {
	return l.SetTTL(ctx, key, value, l.ttl)
}

func (l *Layered[V]) SetTTL(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	l.mem.SetTTL(key, value, ttl)
	if err := l.kv.PutCache(ctx, key, raw, l.now().Add(ttl)); err != nil {
		return fmt.Errorf("cache: durable put %q: %w", key, err)
	}
	return nil
}

func (l *Layered[V]) Delete(ctx context.Context, key string) error {
	l.mem.Delete(key)
	if err := l.kv.DeleteCache(ctx, key); err != nil {
		return fmt.Errorf("cache: durable delete %q: %w", key, err)
	}
	return nil
}

// DeletePrefix invalidates every key sharing prefix in both tiers; returns
// the durable rows removed. Used when a write makes a family of cached panel
// responses stale (e.g. "inbounds:<server>:").
func (l *Layered[V]) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	l.mem.Clear() // memory tier has no prefix index; a full drop is cheap
	n, err := l.kv.DeleteCachePrefix(ctx, prefix)
	if err != nil {
		return n, fmt.Errorf("cache: durable delete prefix %q: %w", prefix, err)
	}
	return n, nil
}

// CleanupExpired sweeps both tiers and returns total entries removed.
func (l *Layered[V]) CleanupExpired(ctx context.Context) (int, error) {
	removed := l.mem.CleanupExpired()
	pruned, err := l.kv.PruneCache(ctx, l.now())
	if err != nil {
		return removed, fmt.Errorf("cache: durable prune: %w", err)
	}
	return removed + pruned, nil
}

func (l *Layered[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(ctx context.Context) (V, error)) (V, error) {
	if v, ok, err := l.Get(ctx, key); err == nil && ok {
		return v, nil
	}
	v, err := factory(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	if err := l.SetTTL(ctx, key, v, ttl); err != nil {
		// The computed value is still good; surface it and log the store miss.
		l.log.Warn("cache: store-through failed", logx.String("key", key), logx.Err(err))
	}
	return v, nil
}

// MemoryStats exposes the in-process tier counters.
func (l *Layered[V]) MemoryStats() Stats { return l.mem.Stats() }
