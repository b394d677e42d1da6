package services

import (
	"context"
	"sync/atomic"
)

const callStatsKey contextKey = "call_stats"

// CallStats tallies cache usage for one call across every step it runs.
type CallStats struct {
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
}

// ServedFromCache reports whether every lookup made by the call was a hit.
func (s *CallStats) ServedFromCache() bool {
	return s != nil && s.CacheHits.Load() > 0 && s.CacheMisses.Load() == 0
}

// WithCallStats attaches a fresh tally to ctx.
func WithCallStats(ctx context.Context) (context.Context, *CallStats) {
	stats := &CallStats{}
	return context.WithValue(ctx, callStatsKey, stats), stats
}

// CallStatsFromContext returns the tally on ctx, or nil.
func CallStatsFromContext(ctx context.Context) *CallStats {
	stats, _ := ctx.Value(callStatsKey).(*CallStats)
	return stats
}
