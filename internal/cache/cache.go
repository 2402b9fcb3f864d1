package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	MaxSize   int
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	hits      int
}

// Cache is a bounded string-keyed cache combining LRU ordering with
// per-entry expiry. Expired entries are purged on read; inserting into a
// full cache evicts the least-recently-used entry first.
//
// All operations are safe for concurrent use. No lock is held while a
// GetOrSet factory runs.
type Cache[V any] struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration

	ll    *list.List // front = most recently used
	items map[string]*list.Element

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time

	group    *singleflight.Group
	coalesce bool
}

type Option[V any] func(*Cache[V])

// WithClock overrides the time source (tests).
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithCoalescing dedupes concurrent GetOrSet factories for the same key via
// singleflight. The default (off) preserves the historical behavior: a
// thundering herd of misses computes the value once per caller, which is
// duplicate work but never corruption.
func WithCoalescing[V any]() Option[V] {
	return func(c *Cache[V]) { c.coalesce = true }
}

func New[V any](maxSize int, defaultTTL time.Duration, opts ...Option[V]) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	c := &Cache[V]{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
		group:      new(singleflight.Group),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the value for key if present and unexpired, promoting it to
// most-recently-used. An expired entry is removed on the spot.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	en := el.Value.(*entry[V])
	if c.now().After(en.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return zero, false
	}
	c.ll.MoveToFront(el)
	en.hits++
	c.hits++
	return en.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key, evicting the LRU entry first when the cache
// is at capacity and key is new.
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		en := el.Value.(*entry[V])
		en.value = value
		en.expiresAt = expires
		c.ll.MoveToFront(el)
		return
	}
	for c.ll.Len() >= c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}
	el := c.ll.PushFront(&entry[V]{key: key, value: value, expiresAt: expires})
	c.items[key] = el
}

// Delete removes key; reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// CleanupExpired sweeps all entries whose expiry has passed and returns how
// many were removed. The scheduler runs this as a periodic maintenance job.
func (c *Cache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		en := el.Value.(*entry[V])
		if !en.expiresAt.After(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// GetOrSet returns the cached value for key, or computes it via factory,
// stores it with ttl (0 = default), and returns it. Unless the cache was
// built WithCoalescing, concurrent callers missing on the same key each run
// the factory.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	if c.coalesce {
		v, err, _ := c.group.Do(key, func() (any, error) {
			if v, ok := c.Get(key); ok {
				return v, nil
			}
			v, err := factory(ctx)
			if err != nil {
				return nil, err
			}
			c.SetTTL(key, v, ttl)
			return v, nil
		})
		if err != nil {
			var zero V
			return zero, err
		}
		return v.(V), nil
	}

	v, err := factory(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.SetTTL(key, v, ttl)
	return v, nil
}

// Len reports the current entry count (expired entries included until the
// next read or sweep touches them).
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns cumulative counters plus the current size.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.ll.Len(),
		MaxSize:   c.maxSize,
	}
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	en := el.Value.(*entry[V])
	c.ll.Remove(el)
	delete(c.items, en.key)
}
