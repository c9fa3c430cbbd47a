package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// inflight tracks one running computation. Attached waiters block on done and
// then read val/err; both are written exactly once, before done is closed.
type inflight struct {
	done chan struct{}
	val  any
	err  error
}

// Coalescer deduplicates concurrent "compute value for key" requests: while a
// recomputation for a key is in flight, every other caller for that key
// attaches to it and observes the same result, so the underlying fetch runs
// at most once per cache-miss episode. Distinct keys proceed fully in
// parallel.
//
// The advisory lock gates who gets to *schedule* a recomputation; it is
// released as soon as the in-flight entry is registered, because from that
// point the in-flight map performs the actual de-duplication. Holding the
// lock for the full computation would make the lock TTL a hard ceiling on
// fetch duration, which is not what the lock is for.
type Coalescer struct {
	store *Store
	locks *LockManager

	// mu guards calls. A plain Mutex (not the store) keeps attachment atomic
	// with registration.
	mu    sync.Mutex
	calls map[string]*inflight

	lockTTL time.Duration
	backoff time.Duration
}

// NewCoalescer builds a Coalescer over store. lockTTL bounds the advisory
// lock (<= 0 means TTLLock) and backoff is the fixed wait between lock
// acquisition attempts (<= 0 means 100ms, matching the retry interval the
// read path was designed around).
func NewCoalescer(store *Store, lockTTL, backoff time.Duration) *Coalescer {
	if lockTTL <= 0 {
		lockTTL = TTLLock
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Coalescer{
		store:   store,
		locks:   NewLockManager(store),
		calls:   make(map[string]*inflight),
		lockTTL: lockTTL,
		backoff: backoff,
	}
}

// Do returns the cached value for key, or computes it via fn. Concurrent
// callers for the same key observe a single execution of fn and identical
// results. On success with a non-nil value, the result is cached under ttl.
//
// fn's error is returned to every attached caller and nothing is cached.
// Lock contention is absorbed internally with a bounded wait-and-retry loop;
// the only way Do fails without fn failing is ctx cancellation.
func (c *Coalescer) Do(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	class := keyClass(key)

	for {
		// 1) Serve from cache when fresh.
		if v, ok := c.store.Get(key); ok {
			cacheHits.WithLabelValues(class).Inc()
			return v, nil
		}

		// 2) Attach to an in-flight computation when one exists.
		c.mu.Lock()
		if call, ok := c.calls[key]; ok {
			c.mu.Unlock()
			coalescedWaits.WithLabelValues(class).Inc()
			return c.wait(ctx, call)
		}
		c.mu.Unlock()

		// 3) Gate scheduling through the advisory lock. Losing the race
		// means someone else is about to register; back off and re-check
		// from the top (the cache or the in-flight map will catch us).
		if !c.locks.TryAcquire(key, c.lockTTL) {
			lockRetries.WithLabelValues(class).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}

		// 4) Register the in-flight entry. Another goroutine may have won
		// registration between steps 2 and 3 if the previous holder released
		// quickly; if so, attach instead of double-computing.
		c.mu.Lock()
		if call, ok := c.calls[key]; ok {
			c.mu.Unlock()
			c.locks.Release(key)
			coalescedWaits.WithLabelValues(class).Inc()
			return c.wait(ctx, call)
		}
		call := &inflight{done: make(chan struct{})}
		c.calls[key] = call
		c.mu.Unlock()

		// Scheduling decision is made; the in-flight entry now carries the
		// de-duplication, so the lock can go.
		c.locks.Release(key)

		cacheMisses.WithLabelValues(class).Inc()
		call.val, call.err = fn(ctx)
		if call.err == nil && call.val != nil {
			c.store.Set(key, call.val, ttl)
		}

		// Deregister unconditionally, then wake waiters. Order matters: a
		// waiter that wakes and retries must not find the settled call still
		// registered.
		c.mu.Lock()
		delete(c.calls, key)
		c.mu.Unlock()
		close(call.done)

		return call.val, call.err
	}
}

// wait blocks until call settles or ctx is cancelled.
func (c *Coalescer) wait(ctx context.Context, call *inflight) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.done:
		return call.val, call.err
	}
}

// Invalidate drops the given keys from the underlying store. Exposed so that
// writers can keep the cache coherent after a successful mutation without
// reaching into the store directly.
func (c *Coalescer) Invalidate(keys ...string) {
	c.store.Delete(keys...)
}

// GetOrCompute is a typed wrapper over Coalescer.Do. A cached value of an
// unexpected dynamic type is treated as absent: it is dropped and the retry
// goes back through Do, so concurrent callers stay coalesced even on the
// mismatch path.
func GetOrCompute[T any](ctx context.Context, c *Coalescer, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	wrapped := func(ctx context.Context) (any, error) {
		out, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	for attempt := 0; ; attempt++ {
		v, err := c.Do(ctx, key, ttl, wrapped)
		if err != nil {
			return zero, err
		}
		if v == nil {
			return zero, nil
		}
		if t, ok := v.(T); ok {
			return t, nil
		}
		// A foreign value under this key means two call sites disagree on
		// the key's type. Drop it and retry; a second mismatch is a bug.
		c.Invalidate(key)
		if attempt > 0 {
			return zero, fmt.Errorf("cache: value under %q is %T, want %T", key, v, zero)
		}
	}
}
