package resultcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts Options) *Cache[map[string]any] {
	t.Helper()
	c, err := New[map[string]any](opts, func(v map[string]any) int64 { return JSONSize(v) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestConcurrentCallersShareOneComputation(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 10})
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func(context.Context) (map[string]any, error) {
		calls.Add(1)
		<-release
		return map[string]any{"tempo_bpm": 120.0}, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]map[string]any, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "analyze:a", compute)
		}()
	}
	waitFor(t, func() bool { return c.Stats().InFlight == 1 })
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected one computation, got %d", calls.Load())
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i]["tempo_bpm"] != 120.0 {
			t.Fatalf("caller %d got %v", i, results[i])
		}
	}
}

func TestCachedValueReturnedWithoutRecompute(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 10})
	var calls atomic.Int32
	compute := func(context.Context) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"n": float64(calls.Load())}, nil
	}

	first, err := c.GetOrCompute(context.Background(), "k", compute)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.GetOrCompute(context.Background(), "k", compute)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one computation, got %d", calls.Load())
	}
	if fmt.Sprintf("%p", first) != fmt.Sprintf("%p", second) {
		t.Fatal("expected the same cached object")
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.HitRate() != 0.5 {
		t.Fatalf("unexpected hit rate %v", stats.HitRate())
	}
}

func TestFailuresAreSharedButNotCached(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 10})
	var calls atomic.Int32
	release := make(chan struct{})
	boom := errors.New("demucs: file not found")

	failing := func(context.Context) (map[string]any, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.GetOrCompute(context.Background(), "k", failing)
		}()
	}
	waitFor(t, func() bool { return c.Stats().InFlight == 1 })
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Fatalf("caller %d: expected shared failure, got %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one failed computation, got %d", calls.Load())
	}

	ok := func(context.Context) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"ok": true}, nil
	}
	if _, err := c.GetOrCompute(context.Background(), "k", ok); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected failure to be retried, got %d computations", calls.Load())
	}
	if c.Stats().Failures != 1 {
		t.Fatalf("expected one recorded failure, got %+v", c.Stats())
	}
}

func TestPurgeForcesRecompute(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 10})
	var calls atomic.Int32
	compute := func(context.Context) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"v": 1.0}, nil
	}
	for range 2 {
		if _, err := c.GetOrCompute(context.Background(), "k", compute); err != nil {
			t.Fatal(err)
		}
	}
	if dropped := c.Purge(); dropped != 1 {
		t.Fatalf("expected one dropped entry, got %d", dropped)
	}
	if _, err := c.GetOrCompute(context.Background(), "k", compute); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected recompute after purge, got %d computations", calls.Load())
	}
	if s := c.Stats(); s.Evictions != 0 || s.Purges != 1 {
		t.Fatalf("purge must not count as eviction: %+v", s)
	}
}

func TestPurgeDetachesInFlightComputation(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 10})
	var calls atomic.Int32
	release := make(chan struct{})
	slow := func(context.Context) (map[string]any, error) {
		calls.Add(1)
		<-release
		return map[string]any{"stale": true}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(context.Background(), "k", slow)
		done <- err
	}()
	waitFor(t, func() bool { return c.Stats().InFlight == 1 })
	c.Purge()

	fresh := func(context.Context) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"stale": false}, nil
	}
	got, err := c.GetOrCompute(context.Background(), "k", fresh)
	if err != nil {
		t.Fatal(err)
	}
	if got["stale"] != false {
		t.Fatalf("expected a new computation after purge, got %v", got)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("original waiter: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two computations, got %d", calls.Load())
	}
	cached, ok := c.Get("k")
	if !ok || cached["stale"] != false {
		t.Fatalf("stale result must not replace the fresh entry, got %v", cached)
	}
}

func TestLRUEvictionByEntryCount(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 2})
	put := func(key string) map[string]any {
		v, err := c.GetOrCompute(context.Background(), key, func(context.Context) (map[string]any, error) {
			return map[string]any{"key": key}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
	held := put("a")
	put("b")
	put("a") // touch a so b is least recent
	put("c")

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected recently used a to survive")
	}
	put("d")
	put("e")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be evicted eventually")
	}
	if held["key"] != "a" {
		t.Fatalf("eviction disturbed a held value: %v", held)
	}
	if s := c.Stats(); s.Entries != 2 || s.Evictions != 3 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestLRUEvictionByBytes(t *testing.T) {
	c, err := New[string](Options{MaxBytes: 10}, func(v string) int64 { return int64(len(v)) })
	if err != nil {
		t.Fatal(err)
	}
	val := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) { return v, nil }
	}
	ctx := context.Background()
	mustGet(t, c, ctx, "a", val("aaaa"))
	mustGet(t, c, ctx, "b", val("bbbb"))
	mustGet(t, c, ctx, "c", val("cccc"))

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry to be evicted by byte budget")
	}
	if s := c.Stats(); s.Bytes != 8 || s.Entries != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}

	mustGet(t, c, ctx, "huge", val("0123456789abcdef"))
	if _, ok := c.Get("huge"); ok {
		t.Fatal("values larger than the whole budget must not be cached")
	}
	if s := c.Stats(); s.Entries != 2 {
		t.Fatalf("oversized value must not evict others: %+v", s)
	}
}

func TestCallerDeadlineLeavesComputationRunning(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 10, HardLimit: time.Minute})
	var calls atomic.Int32
	release := make(chan struct{})
	finished := make(chan struct{})
	slow := func(ctx context.Context) (map[string]any, error) {
		calls.Add(1)
		defer close(finished)
		select {
		case <-release:
			return map[string]any{"stems": 4.0}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrCompute(ctx, "separate:x", slow)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	close(release)
	<-finished
	waitFor(t, func() bool { _, ok := c.Get("separate:x"); return ok })

	got, err := c.GetOrCompute(context.Background(), "separate:x", slow)
	if err != nil {
		t.Fatal(err)
	}
	if got["stems"] != 4.0 || calls.Load() != 1 {
		t.Fatalf("expected background result to be cached, got %v after %d calls", got, calls.Load())
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New[string](Options{MaxEntries: -1}, nil); err == nil {
		t.Fatal("expected negative bound error")
	}
	if _, err := New[string](Options{MaxBytes: 10}, nil); err == nil {
		t.Fatal("expected sizer requirement error")
	}
}

func mustGet(t *testing.T, c *Cache[string], ctx context.Context, key string, fn func(context.Context) (string, error)) {
	t.Helper()
	if _, err := c.GetOrCompute(ctx, key, fn); err != nil {
		t.Fatalf("GetOrCompute(%s): %v", key, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
