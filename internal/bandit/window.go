package bandit

import "context"

// selectWindow picks the historical window the allocation is computed from.
//
// Policy: query the requested (or default) window first; if every variant
// clears the minimum-impressions threshold, use it. Otherwise re-query at
// the maximum window. If some variants still fall short the engine proceeds
// with the wide window's data and those variants drop to their prior-only
// posterior; that per-variant condition is what surfaces as used_fallback
// on the audit record, it is not an error.
func selectWindow(ctx context.Context, provider MetricsProvider, experimentID string, cfg Config, requestedDays int) (int, []VariantMetrics, error) {
	days := requestedDays
	if days <= 0 {
		days = cfg.DefaultWindowDays
	}

	metrics, err := provider.AggregateMetrics(ctx, experimentID, days)
	if err != nil {
		return 0, nil, err
	}
	if allSufficient(metrics, cfg.MinImpressions) {
		return days, metrics, nil
	}

	if days >= cfg.MaxWindowDays {
		return days, metrics, nil
	}

	wide, err := provider.AggregateMetrics(ctx, experimentID, cfg.MaxWindowDays)
	if err != nil {
		return 0, nil, err
	}
	return cfg.MaxWindowDays, wide, nil
}

func allSufficient(metrics []VariantMetrics, threshold uint64) bool {
	if len(metrics) == 0 {
		return false
	}
	for _, m := range metrics {
		if m.Impressions < threshold {
			return false
		}
	}
	return true
}
