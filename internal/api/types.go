package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusActive    ExperimentStatus = "active"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s string) bool {
	switch ExperimentStatus(s) {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// VariantCreate is one variant in an experiment creation request.
type VariantCreate struct {
	Name      string `json:"name"`
	IsControl bool   `json:"is_control"`
}

// ExperimentCreate is the request body for POST /experiments.
type ExperimentCreate struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	OptimizationTarget string          `json:"optimization_target,omitempty"`
	Variants           []VariantCreate `json:"variants"`
}

// Validate performs structural validation of an experiment creation request.
func (e *ExperimentCreate) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(e.Name) > 255 {
		return fmt.Errorf("name exceeds 255 characters")
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("at least 2 variants are required, got %d", len(e.Variants))
	}

	controls := 0
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if v.Name == "" {
			return fmt.Errorf("variant name is required")
		}
		if len(v.Name) > 100 {
			return fmt.Errorf("variant name %q exceeds 100 characters", v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variant name %q", v.Name)
		}
		seen[v.Name] = true
		if v.IsControl {
			controls++
		}
	}
	if controls == 0 {
		return fmt.Errorf("at least one variant must be marked as control")
	}

	if e.OptimizationTarget != "" {
		switch e.OptimizationTarget {
		case "ctr", "rps", "rpm":
		default:
			return fmt.Errorf("unknown optimization_target %q", e.OptimizationTarget)
		}
	}

	return nil
}

// Variant is a stored variant.
type Variant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsControl bool      `json:"is_control"`
	CreatedAt time.Time `json:"created_at"`
}

// Experiment is a stored experiment with its variants.
type Experiment struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Description        string           `json:"description,omitempty"`
	Status             ExperimentStatus `json:"status"`
	OptimizationTarget string           `json:"optimization_target"`
	Variants           []Variant        `json:"variants"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// StatusUpdate is the request body for PATCH /experiments/{id}/status.
type StatusUpdate struct {
	Status string `json:"status"`
}

// MetricInput is one variant's daily counters.
type MetricInput struct {
	VariantName string          `json:"variant_name"`
	Sessions    int64           `json:"sessions"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// Validate enforces counter invariants on a single metric row.
func (m *MetricInput) Validate() error {
	if m.VariantName == "" {
		return fmt.Errorf("variant_name is required")
	}
	if m.Impressions < 0 {
		return fmt.Errorf("variant %s: impressions must be non-negative, got %d", m.VariantName, m.Impressions)
	}
	if m.Clicks < 0 {
		return fmt.Errorf("variant %s: clicks must be non-negative, got %d", m.VariantName, m.Clicks)
	}
	if m.Sessions < 0 {
		return fmt.Errorf("variant %s: sessions must be non-negative, got %d", m.VariantName, m.Sessions)
	}
	if m.Clicks > m.Impressions {
		return fmt.Errorf("variant %s: clicks (%d) cannot exceed impressions (%d)", m.VariantName, m.Clicks, m.Impressions)
	}
	if m.Revenue.IsNegative() {
		return fmt.Errorf("variant %s: revenue must be non-negative, got %s", m.VariantName, m.Revenue)
	}
	return nil
}

// MetricsBatch is the request body for POST /experiments/{id}/metrics:
// one day's aggregated counters for some or all variants.
type MetricsBatch struct {
	Date    string        `json:"date"` // YYYY-MM-DD
	Metrics []MetricInput `json:"metrics"`
	Source  string        `json:"source,omitempty"`
	BatchID string        `json:"batch_id,omitempty"`
}

// Validate performs structural validation of a metrics batch.
func (b *MetricsBatch) Validate() error {
	if _, err := time.Parse("2006-01-02", b.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	if len(b.Metrics) == 0 {
		return fmt.Errorf("metrics cannot be empty")
	}
	if b.Source != "" {
		switch b.Source {
		case "api", "gam", "cdp", "manual":
		default:
			return fmt.Errorf("unknown source %q", b.Source)
		}
	}
	for i := range b.Metrics {
		if err := b.Metrics[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IngestReceipt acknowledges a recorded metrics batch. Replays of the same
// batch_id return the original receipt unchanged.
type IngestReceipt struct {
	Message         string `json:"message"`
	Date            string `json:"date"`
	VariantsUpdated int    `json:"variants_updated"`
	BatchID         string `json:"batch_id,omitempty"`
	Duplicate       bool   `json:"duplicate,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
