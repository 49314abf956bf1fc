package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/activeview/mab/internal/api"
	"github.com/activeview/mab/internal/bandit"
)

var (
	// ErrNotFound is returned when an experiment or variant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when an experiment name is already taken.
	ErrDuplicateName = errors.New("experiment name already exists")
)

// DailyMetric is one variant's counters for one day. Rows land append-only
// in the raw table and upserted into the clean daily table.
type DailyMetric struct {
	VariantID   string
	Date        time.Time
	Impressions int64
	Clicks      int64
	Sessions    int64
	Revenue     decimal.Decimal
	Source      string
	BatchID     string
}

// HistoryRow is one variant-day in the metrics history view.
type HistoryRow struct {
	Date        time.Time       `json:"date"`
	VariantID   string          `json:"variant_id"`
	VariantName string          `json:"variant_name"`
	IsControl   bool            `json:"is_control"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Sessions    int64           `json:"sessions"`
	Revenue     decimal.Decimal `json:"revenue"`
	CTR         float64         `json:"ctr"`
}

// AllocationRecord is one persisted allocation audit. Write-once,
// append-only: records are never updated after insert.
type AllocationRecord struct {
	ID               string       `json:"id"`
	ExperimentID     string       `json:"experiment_id"`
	Audit            bandit.Audit `json:"audit"`
	TotalImpressions uint64       `json:"total_impressions"`
	TotalClicks      uint64       `json:"total_clicks"`
}

// ExperimentStore persists experiments and their variants.
type ExperimentStore interface {
	// Create inserts an experiment and its variants in one transaction.
	// Returns ErrDuplicateName when the name is taken.
	Create(ctx context.Context, exp *api.Experiment) error

	// GetByID returns the experiment with its variants, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*api.Experiment, error)

	// GetByName returns the experiment with its variants, or ErrNotFound.
	GetByName(ctx context.Context, name string) (*api.Experiment, error)

	// UpdateStatus transitions the experiment's lifecycle state.
	UpdateStatus(ctx context.Context, id string, status api.ExperimentStatus) error
}

// MetricStore persists daily counters and serves the engine's aggregate
// queries.
type MetricStore interface {
	// Record writes rows to the raw audit table and upserts the clean
	// daily table atomically.
	Record(ctx context.Context, rows []DailyMetric) error

	// AggregateMetrics returns one row per variant of the experiment,
	// summed over the last windowDays closed days, zero-filled for
	// variants with no data. Satisfies bandit.MetricsProvider.
	AggregateMetrics(ctx context.Context, experimentID string, windowDays int) ([]bandit.VariantMetrics, error)

	// History returns the experiment's daily rows, newest first.
	History(ctx context.Context, experimentID string) ([]HistoryRow, error)
}

// AllocationHistoryStore persists the append-only allocation audit trail.
type AllocationHistoryStore interface {
	Append(ctx context.Context, rec *AllocationRecord) error

	// List returns an experiment's records, newest first, at most limit.
	List(ctx context.Context, experimentID string, limit int) ([]AllocationRecord, error)

	// Get returns one record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*AllocationRecord, error)
}
