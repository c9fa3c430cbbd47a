package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCoalescer(t *testing.T) *Coalescer {
	t.Helper()
	s := NewStore(0)
	t.Cleanup(s.Stop)
	return NewCoalescer(s, time.Minute, time.Millisecond)
}

func TestCoalescer_CacheHitSkipsCompute(t *testing.T) {
	c := newTestCoalescer(t)
	c.store.Set("k", "cached", time.Minute)

	v, err := c.Do(context.Background(), "k", time.Minute, func(context.Context) (any, error) {
		t.Fatalf("fn must not run on a cache hit")
		return nil, nil
	})
	if err != nil || v.(string) != "cached" {
		t.Fatalf("Do = (%v, %v)", v, err)
	}
}

func TestCoalescer_ConcurrentCallersComputeOnce(t *testing.T) {
	c := newTestCoalescer(t)

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "result", nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Do(context.Background(), "k", time.Minute, fn)
		}(i)
	}

	// Let every goroutine reach the cache miss before the leader finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if results[i].(string) != "result" {
			t.Fatalf("caller %d result = %v", i, results[i])
		}
	}

	// The shared result was cached for later callers.
	if v, ok := c.store.Get("k"); !ok || v.(string) != "result" {
		t.Fatalf("result not cached: (%v, %v)", v, ok)
	}
}

func TestCoalescer_DistinctKeysRunInParallel(t *testing.T) {
	c := newTestCoalescer(t)

	started := make(chan string, 2)
	release := make(chan struct{})
	fn := func(key string) func(context.Context) (any, error) {
		return func(context.Context) (any, error) {
			started <- key
			<-release
			return key, nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.Do(context.Background(), "a", time.Minute, fn("a")) }()
	go func() { defer wg.Done(); c.Do(context.Background(), "b", time.Minute, fn("b")) }()

	// Both computations must start before either finishes.
	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case k := <-started:
			seen[k] = true
		case <-timeout:
			t.Fatalf("distinct keys serialized; started %v", seen)
		}
	}
	close(release)
	wg.Wait()
}

func TestCoalescer_ErrorNotCachedAndRetriable(t *testing.T) {
	c := newTestCoalescer(t)

	boom := errors.New("boom")
	var calls int32
	fn := func(context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	if _, err := c.Do(context.Background(), "k", time.Minute, fn); !errors.Is(err, boom) {
		t.Fatalf("first call err = %v, want boom", err)
	}
	if _, ok := c.store.Get("k"); ok {
		t.Fatalf("failed computation must not populate the cache")
	}

	v, err := c.Do(context.Background(), "k", time.Minute, fn)
	if err != nil || v.(string) != "ok" {
		t.Fatalf("retry = (%v, %v)", v, err)
	}
}

func TestCoalescer_InFlightDeregisteredAfterCompletion(t *testing.T) {
	c := newTestCoalescer(t)

	c.Do(context.Background(), "k", time.Minute, func(context.Context) (any, error) {
		return 1, nil
	})

	c.mu.Lock()
	n := len(c.calls)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("in-flight table has %d entries after completion", n)
	}
}

func TestCoalescer_WaiterHonorsContextCancel(t *testing.T) {
	c := newTestCoalescer(t)

	release := make(chan struct{})
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		c.Do(context.Background(), "k", time.Minute, func(context.Context) (any, error) {
			<-release
			return "late", nil
		})
	}()

	// Wait for the leader to register in-flight.
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		n := len(c.calls)
		c.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("leader never registered")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Do(ctx, "k", time.Minute, func(context.Context) (any, error) {
		return nil, nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter err = %v", err)
	}

	close(release)
	<-leaderDone
}

func TestCoalescer_Invalidate(t *testing.T) {
	c := newTestCoalescer(t)
	c.store.Set("a", 1, time.Minute)
	c.store.Set("b", 2, time.Minute)
	c.Invalidate("a", "b")
	if _, ok := c.store.Get("a"); ok {
		t.Fatalf("a still cached after Invalidate")
	}
	if _, ok := c.store.Get("b"); ok {
		t.Fatalf("b still cached after Invalidate")
	}
}

func TestGetOrCompute_TypedResults(t *testing.T) {
	c := newTestCoalescer(t)

	v, err := GetOrCompute(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("GetOrCompute = (%d, %v)", v, err)
	}

	// Second call is served from cache with the right type.
	v, err = GetOrCompute(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		t.Fatalf("fn must not run on a cache hit")
		return 0, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("cached GetOrCompute = (%d, %v)", v, err)
	}
}

func TestGetOrCompute_TypeMismatchRecomputes(t *testing.T) {
	c := newTestCoalescer(t)
	c.store.Set("k", "not an int", time.Minute)

	v, err := GetOrCompute(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Fatalf("GetOrCompute after mismatch = (%d, %v)", v, err)
	}

	// The recomputed value replaced the foreign one in the store.
	if got, ok := c.store.Get("k"); !ok || got.(int) != 7 {
		t.Fatalf("store after mismatch = (%v, %v), want (7, true)", got, ok)
	}
}

func TestGetOrCompute_TypeMismatchStillCoalesces(t *testing.T) {
	c := newTestCoalescer(t)
	c.store.Set("k", "not an int", time.Minute)

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetOrCompute(context.Background(), c, "k", time.Minute, fn)
		}(i)
	}

	// Every goroutine sees the foreign value, drops it, and re-enters Do
	// before the leader finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != 7 {
			t.Fatalf("caller %d = (%d, %v)", i, results[i], errs[i])
		}
	}
}
