// Package session caches one authenticated credential per upstream.
//
// Unlike the response cache, a session has forced invalidation as a
// first-class operation: a downstream 401 means the credential is dead right
// now, regardless of how old it is.
package session

import (
	"sync"
	"time"
)

type record[C any] struct {
	credential      C
	authenticatedAt time.Time
}

// Store holds at most one credential per upstream key with a store-level
// freshness window. Records are replaced atomically, never patched.
type Store[C any] struct {
	mu      sync.Mutex
	records map[string]record[C]
	ttl     time.Duration

	now func() time.Time
}

// New creates a store whose credentials stay valid for ttl after Set.
// The default of one hour matches typical panel session lifetimes.
func New[C any](ttl time.Duration) *Store[C] {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store[C]{
		records: make(map[string]record[C]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// IsValid reports whether key holds an unexpired credential, without
// touching the record.
func (s *Store[C]) IsValid(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return false
	}
	return s.now().Sub(r.authenticatedAt) < s.ttl
}

// Get returns the credential for key only while it is valid.
func (s *Store[C]) Get(key string) (C, bool) {
	var zero C
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok || s.now().Sub(r.authenticatedAt) >= s.ttl {
		return zero, false
	}
	return r.credential, true
}

// Set stores credential for key, stamped with the current time.
func (s *Store[C]) Set(key string, credential C) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record[C]{credential: credential, authenticatedAt: s.now()}
}

// Invalidate removes key immediately. Called when the upstream rejects the
// credential, as opposed to passive TTL expiry.
func (s *Store[C]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// Len reports how many upstreams currently hold a record (expired or not).
func (s *Store[C]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
