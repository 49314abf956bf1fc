package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service
type Metrics struct {
	IngestTotal   prometheus.Counter
	DedupHits     prometheus.Counter
	WALErrors     prometheus.Counter
	RateLimited   *prometheus.CounterVec
	QuotaExceeded prometheus.Counter

	AllocationsComputed *prometheus.CounterVec
	FallbackUsed        prometheus.Counter
	EngineDuration      prometheus.Histogram

	ExperimentsCreated prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	return &Metrics{
		IngestTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mab_ingest_total",
			Help: "Total number of metrics batches received",
		}),
		DedupHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mab_dedup_hits",
			Help: "Number of duplicate batches served from the dedup store",
		}),
		WALErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mab_wal_errors",
			Help: "Number of WAL write errors",
		}),
		RateLimited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mab_rate_limited_total",
				Help: "Number of requests rejected by the sliding-window limiter",
			},
			[]string{"endpoint"},
		),
		QuotaExceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mab_quota_exceeded_total",
			Help: "Number of allocation requests rejected by the daily quota",
		}),
		AllocationsComputed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mab_allocations_computed_total",
				Help: "Number of allocation computations per optimization target",
			},
			[]string{"target"},
		),
		FallbackUsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mab_allocation_fallback_total",
			Help: "Number of allocations that used prior-only posteriors",
		}),
		EngineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mab_engine_duration_seconds",
			Help:    "Wall time of one allocation engine run",
			Buckets: prometheus.DefBuckets,
		}),
		ExperimentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mab_experiments_created_total",
			Help: "Number of experiments created",
		}),
	}
}
