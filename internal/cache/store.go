// Package cache implements the in-process caching and coalescing layer that
// serves derived roadmap statistics: a TTL key/value store, an advisory lock
// manager layered on top of it, and a request coalescer that collapses
// concurrent recomputations of the same key into one execution.
//
// The layer is process-local. For horizontally scaled deployments a shared
// cache (e.g., Redis-backed) would be needed to enforce global coalescing;
// this package deliberately targets the single-node case.
package cache

import (
	"sync"
	"time"
)

// entry is a stored value with its expiry instant.
type entry struct {
	value    any
	expireAt time.Time
}

// expired reports whether the entry is past its expiry at instant now.
func (e entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// Store is a process-wide key/value map with per-entry expiry. Entries past
// their TTL are treated as absent on read regardless of whether the periodic
// sweep has removed them yet. Operations are total: a miss is a normal
// outcome, never an error.
//
// A Store is safe for concurrent use. Construct one per process (or per test)
// with NewStore and inject it; do not treat it as ambient global state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStore returns a running Store whose background sweep removes expired
// entries every sweepEvery. A sweepEvery <= 0 disables the sweep; lazy expiry
// on read still applies. Call Stop to terminate the sweep goroutine.
func NewStore(sweepEvery time.Duration) *Store {
	s := &Store{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.sweepLoop(sweepEvery)
	}
	return s
}

// Get returns the unexpired value stored under key. The boolean reports
// presence: expired entries are misses and are deleted opportunistically.
func (s *Store) Get(key string) (any, bool) {
	now := time.Now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if e.expired(now) {
		s.mu.Lock()
		// Re-check under the write lock; a newer entry may have replaced it.
		if cur, ok := s.entries[key]; ok && cur.expired(now) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A ttl <= 0 stores the entry without
// expiry.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry{value: value, expireAt: exp}
	s.mu.Unlock()
}

// Add stores value under key only when no unexpired entry exists. It returns
// true when the entry was written. The check and the write happen under one
// lock, which makes Add usable as an atomic test-and-set (the lock manager
// relies on this).
func (s *Store) Add(key string, value any, ttl time.Duration) bool {
	now := time.Now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false
	}
	s.entries[key] = entry{value: value, expireAt: exp}
	return true
}

// Delete removes the given keys. Missing keys are ignored.
func (s *Store) Delete(keys ...string) {
	if len(keys) == 0 {
		return
	}
	s.mu.Lock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()
}

// FlushAll drops every entry.
func (s *Store) FlushAll() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
}

// Len returns the number of stored entries, including not-yet-swept expired
// ones. Intended for tests and metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stop terminates the background sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// sweepLoop periodically removes expired entries so memory stays bounded even
// for keys that are never read again.
func (s *Store) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.mu.Lock()
			for k, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
