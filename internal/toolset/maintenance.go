package toolset

import (
	"context"

	"iara/internal/ledger"
	"iara/internal/logging"
	"iara/internal/resultcache"
	"iara/internal/tool"
	"iara/internal/workerpool"
)

// PerformanceReport is the payload of performance_stats.
type PerformanceReport struct {
	Cache        resultcache.Stats  `json:"cache"`
	CacheHitRate float64            `json:"cache_hit_rate"`
	Workers      workerpool.Stats   `json:"workers"`
	Tools        []ledger.Aggregate `json:"tools"`
	Recent       []ledger.Call      `json:"recent,omitempty"`
}

func (t *Toolset) purgeSpec() tool.Spec {
	return tool.Spec{
		Name:        "purge_cache",
		Description: "Drop every cached result. The next call for any input recomputes.",
		Schema:      tool.Object(nil),
		Effect:      tool.EffectStateMutating,
		Handler: func(ctx context.Context, _ tool.Arguments) (any, error) {
			dropped := t.d.Cache.Purge()
			logging.WithContext(ctx, t.logger).Info("cache purged on request", logging.Int("entries", dropped))
			return map[string]any{
				"purged_entries": dropped,
				"cache":          t.d.Cache.Stats(),
			}, nil
		},
	}
}

func (t *Toolset) performanceSpec() tool.Spec {
	return tool.Spec{
		Name:        "performance_stats",
		Description: "Report cache effectiveness, worker usage, and per-tool timing.",
		Schema: tool.Object(map[string]*tool.Property{
			"recent": tool.IntegerProperty("Include this many of the latest calls").Between(0, 500).WithDefault(0),
		}),
		Effect: tool.EffectReadOnly,
		Handler: func(ctx context.Context, args tool.Arguments) (any, error) {
			stats := t.d.Cache.Stats()
			report := PerformanceReport{
				Cache:        stats,
				CacheHitRate: stats.HitRate(),
				Workers:      t.d.Pool.Stats(),
				Tools:        []ledger.Aggregate{},
			}
			if t.d.Ledger == nil {
				return report, nil
			}
			aggs, err := t.d.Ledger.Aggregates(ctx)
			if err != nil {
				return nil, err
			}
			if aggs != nil {
				report.Tools = aggs
			}
			if n := args.Int("recent"); n > 0 {
				if report.Recent, err = t.d.Ledger.Recent(ctx, n); err != nil {
					return nil, err
				}
			}
			return report, nil
		},
	}
}
