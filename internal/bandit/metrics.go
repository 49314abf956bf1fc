package bandit

import (
	"context"

	"github.com/shopspring/decimal"
)

// VariantMetrics is one variant's aggregated counters over a closed date
// range. Immutable once returned by the provider.
type VariantMetrics struct {
	VariantID   string
	VariantName string
	IsControl   bool
	Impressions uint64
	Clicks      uint64
	Sessions    uint64
	Revenue     decimal.Decimal
}

// Validate enforces the counter invariants at the engine boundary.
func (m VariantMetrics) Validate() error {
	if m.Clicks > m.Impressions {
		return &DataError{
			VariantID: m.VariantID,
			Field:     "clicks",
			Value:     m.Clicks,
			Reason:    "clicks exceed impressions",
		}
	}
	if m.Revenue.IsNegative() {
		return &DataError{
			VariantID: m.VariantID,
			Field:     "revenue",
			Value:     m.Revenue.String(),
			Reason:    "revenue is negative",
		}
	}
	return nil
}

// CTR returns the observed click-through rate, 0 when there are no
// impressions.
func (m VariantMetrics) CTR() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return float64(m.Clicks) / float64(m.Impressions)
}

// RPS returns the observed revenue per session, 0 when there are no
// sessions.
func (m VariantMetrics) RPS() float64 {
	if m.Sessions == 0 {
		return 0
	}
	return m.Revenue.InexactFloat64() / float64(m.Sessions)
}

// RPM returns the observed revenue per thousand impressions, 0 when there
// are no impressions.
func (m VariantMetrics) RPM() float64 {
	if m.Impressions == 0 {
		return 0
	}
	return m.Revenue.InexactFloat64() / float64(m.Impressions) * 1000
}

// MetricsProvider supplies aggregated per-variant counters for the last
// windowDays closed days. Implementations must return one row per variant
// of the experiment, zero-filled when a variant has no data in the window.
type MetricsProvider interface {
	AggregateMetrics(ctx context.Context, experimentID string, windowDays int) ([]VariantMetrics, error)
}
