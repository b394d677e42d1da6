package resultcache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"iara/internal/logging"
	"iara/internal/services"
)

// Options bounds the cache. A zero MaxEntries or MaxBytes disables that bound.
type Options struct {
	MaxEntries int
	MaxBytes   int64
	// HardLimit bounds a detached computation once every waiter has left.
	HardLimit time.Duration
	Logger    *slog.Logger
}

// Entry is an immutable cached value. Recomputing a key replaces the entry
// rather than mutating it.
type Entry[V any] struct {
	Key       string
	Value     V
	CreatedAt time.Time
	Size      int64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Computations int64 `json:"computations"`
	Failures     int64 `json:"failures"`
	Evictions    int64 `json:"evictions"`
	Purges       int64 `json:"purges"`
	Entries      int   `json:"entries"`
	Bytes        int64 `json:"bytes"`
	InFlight     int   `json:"in_flight"`
	MaxEntries   int   `json:"max_entries"`
	MaxBytes     int64 `json:"max_bytes"`
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Sizer estimates the retained size of a value in bytes.
type Sizer[V any] func(V) int64

// Cache is a process-lifetime memo table. The zero value is not usable; call New.
type Cache[V any] struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, *Entry[V]]
	bytes      int64
	generation uint64
	inflight   map[string]int
	purging    bool
	stats      Stats

	group  singleflight.Group
	sizer  Sizer[V]
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New builds a cache. sizer may be nil when no byte budget is configured.
func New[V any](opts Options, sizer Sizer[V]) (*Cache[V], error) {
	if opts.MaxEntries < 0 || opts.MaxBytes < 0 {
		return nil, fmt.Errorf("resultcache: negative bounds (entries=%d bytes=%d)", opts.MaxEntries, opts.MaxBytes)
	}
	if opts.MaxBytes > 0 && sizer == nil {
		return nil, fmt.Errorf("resultcache: byte budget requires a sizer")
	}
	if opts.HardLimit <= 0 {
		opts.HardLimit = 2 * time.Hour
	}
	if sizer == nil {
		sizer = func(V) int64 { return 0 }
	}
	c := &Cache[V]{
		inflight: make(map[string]int),
		sizer:    sizer,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "cache"),
		now:      time.Now,
	}
	capacity := opts.MaxEntries
	if capacity <= 0 {
		capacity = math.MaxInt
	}
	lru, err := simplelru.NewLRU[string, *Entry[V]](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("resultcache: %w", err)
	}
	c.lru = lru
	c.stats.MaxEntries = opts.MaxEntries
	c.stats.MaxBytes = opts.MaxBytes
	return c, nil
}

// onEvict runs under c.mu, from inside lru calls.
func (c *Cache[V]) onEvict(key string, entry *Entry[V]) {
	c.bytes -= entry.Size
	if c.purging {
		return
	}
	c.stats.Evictions++
	c.logger.Debug("cache entry evicted",
		logging.String("key", key),
		logging.Int64("bytes", entry.Size),
		logging.Duration("age", c.now().Sub(entry.CreatedAt)),
	)
}

// Get returns a live entry without computing.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// flight boxes V so a nil interface value survives the trip through singleflight.
type flight[V any] struct {
	value V
}

// GetOrCompute returns the live entry for key or runs compute to produce it.
// Concurrent callers with the same key share one computation. compute runs
// on a context detached from ctx; when ctx ends first the caller gets ctx's
// error and the computation continues in the background.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error)) (V, error) {
	var zero V

	c.mu.Lock()
	if entry, ok := c.lru.Get(key); ok {
		c.stats.Hits++
		c.mu.Unlock()
		if cs := services.CallStatsFromContext(ctx); cs != nil {
			cs.CacheHits.Add(1)
		}
		logging.WithContext(ctx, c.logger).Debug("cache hit", logging.String("key", key))
		return entry.Value, nil
	}
	c.stats.Misses++
	c.mu.Unlock()
	if cs := services.CallStatsFromContext(ctx); cs != nil {
		cs.CacheMisses.Add(1)
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.run(detached, key, compute)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(flight[V]).value, nil
	case <-ctx.Done():
		logging.WithContext(ctx, c.logger).Info("caller stopped waiting; computation continues",
			logging.String("key", key),
			logging.String("reason", ctx.Err().Error()),
		)
		return zero, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
	}
}

func (c *Cache[V]) run(ctx context.Context, key string, compute func(context.Context) (V, error)) (any, error) {
	c.mu.Lock()
	if entry, ok := c.lru.Peek(key); ok {
		// Stored by a flight that finished between the caller's miss and now.
		c.mu.Unlock()
		return flight[V]{value: entry.Value}, nil
	}
	generation := c.generation
	c.inflight[key]++
	c.stats.Computations++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight[key]--; c.inflight[key] <= 0 {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, c.opts.HardLimit)
	defer cancel()

	start := c.now()
	value, err := compute(runCtx)
	if err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		logging.WithContext(ctx, c.logger).Debug("computation failed; not cached",
			logging.String("key", key),
			logging.Error(err),
		)
		return nil, err
	}
	c.store(ctx, key, value, generation, c.now().Sub(start))
	return flight[V]{value: value}, nil
}

func (c *Cache[V]) store(ctx context.Context, key string, value V, generation uint64, took time.Duration) {
	size := c.sizer(value)
	logger := logging.WithContext(ctx, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		logger.Debug("cache purged during computation; result discarded", logging.String("key", key))
		return
	}
	if c.opts.MaxBytes > 0 && size > c.opts.MaxBytes {
		logging.WarnWithContext(logger, "result larger than cache budget; not cached", "cache_oversize",
			logging.String("key", key),
			logging.Int64("bytes", size),
			logging.Int64("max_bytes", c.opts.MaxBytes),
			logging.String(logging.FieldErrorHint, "raise cache.max_mib"),
		)
		return
	}
	if old, ok := c.lru.Peek(key); ok {
		// simplelru replaces in place without calling onEvict.
		c.bytes -= old.Size
	}
	c.lru.Add(key, &Entry[V]{Key: key, Value: value, CreatedAt: c.now(), Size: size})
	c.bytes += size
	for c.opts.MaxBytes > 0 && c.bytes > c.opts.MaxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
	logger.Debug("cache entry stored",
		logging.String("key", key),
		logging.Int64("bytes", size),
		logging.Duration("compute", took),
	)
}

// Purge drops every entry. Computations already running finish for their
// waiters but their results are not stored, and the next call for any key
// starts a new computation.
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := c.lru.Len()
	c.purging = true
	c.lru.Purge()
	c.purging = false
	c.bytes = 0
	c.generation++
	c.stats.Purges++
	for key := range c.inflight {
		c.group.Forget(key)
	}
	c.logger.Info("cache purged", logging.Int("entries", dropped))
	return dropped
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	s.Bytes = c.bytes
	s.InFlight = len(c.inflight)
	return s
}
