package bandit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Algorithm is the identity recorded on every audit record.
	Algorithm = "thompson_sampling"

	// AlgorithmVersion changes whenever the sampling procedure, the prior,
	// or the window policy changes, so stored audits stay explainable.
	AlgorithmVersion = "2.0.0"
)

// Engine turns per-variant aggregated counters into a probability-weighted
// traffic split. Every call is independent: the engine holds no state
// between invocations and performs no I/O beyond the provider queries made
// by the window selector.
type Engine struct {
	cfg Config
}

// NewEngine validates the configuration and constructs an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Request identifies one allocation computation.
type Request struct {
	ExperimentID string
	Target       OptimizationTarget

	// WindowDays overrides the default window when positive.
	WindowDays int

	// Seed is honored when HasSeed is set (replay and tests); otherwise a
	// fresh seed is drawn per invocation.
	Seed    uint64
	HasSeed bool
}

// VariantAllocation is one variant's share of the result plus its reported
// metrics.
type VariantAllocation struct {
	VariantID     string          `json:"variant_id"`
	VariantName   string          `json:"variant_name"`
	IsControl     bool            `json:"is_control"`
	AllocationPct float64         `json:"allocation_percentage"`
	Impressions   uint64          `json:"impressions"`
	Clicks        uint64          `json:"clicks"`
	Sessions      uint64          `json:"sessions"`
	Revenue       decimal.Decimal `json:"revenue"`
	CTR           float64         `json:"ctr"`
	CTRLower      float64         `json:"ctr_ci_lower"`
	CTRUpper      float64         `json:"ctr_ci_upper"`
	RPS           float64         `json:"rps"`
	RPM           float64         `json:"rpm"`
}

// Result is the allocation handed back to the caller. Percentages sum to
// 100 up to floating rounding and the (vanishingly unlikely) discarded tie
// trials.
type Result struct {
	WindowDays   int                 `json:"window_days"`
	UsedFallback bool                `json:"used_fallback"`
	Variants     []VariantAllocation `json:"variants"`
}

// AuditVariant records one variant's posterior parameters and final share.
type AuditVariant struct {
	VariantID     string    `json:"variant_id"`
	Posterior     Posterior `json:"posterior"`
	AllocationPct float64   `json:"allocation_percentage"`
}

// Audit is the write-once record explaining a computed allocation: with the
// seed, window and posterior parameters here, the exact split is
// reproducible bit for bit.
type Audit struct {
	ComputedAt       time.Time      `json:"computed_at"`
	WindowDays       int            `json:"window_days_used"`
	UsedFallback     bool           `json:"used_fallback"`
	Seed             uint64         `json:"seed"`
	Algorithm        string         `json:"algorithm"`
	AlgorithmVersion string         `json:"algorithm_version"`
	Samples          int            `json:"samples"`
	Target           OptimizationTarget `json:"optimization_target"`
	Variants         []AuditVariant `json:"variants"`
}

// Allocate computes the traffic split for one experiment.
//
// Pipeline: window selection -> metrics validation -> one posterior per
// variant -> Monte Carlo simulation -> Wilson intervals -> result + audit.
// Insufficient data is never an error (prior-only fallback, flagged on the
// audit); malformed metrics and unknown targets are.
func (e *Engine) Allocate(ctx context.Context, provider MetricsProvider, req Request) (*Result, *Audit, error) {
	if _, err := ParseTarget(string(req.Target)); err != nil {
		return nil, nil, err
	}

	windowDays, metrics, err := selectWindow(ctx, provider, req.ExperimentID, e.cfg, req.WindowDays)
	if err != nil {
		return nil, nil, fmt.Errorf("window selection: %w", err)
	}
	if len(metrics) < 2 {
		return nil, nil, fmt.Errorf("experiment %s has %d variants, need at least 2", req.ExperimentID, len(metrics))
	}

	posteriors := make([]Posterior, len(metrics))
	usedFallback := false
	for i, m := range metrics {
		if err := m.Validate(); err != nil {
			return nil, nil, err
		}
		p, err := newPosterior(m, req.Target, e.cfg)
		if err != nil {
			return nil, nil, err
		}
		posteriors[i] = p
		if p.PriorOnly {
			usedFallback = true
		}
	}

	seed := req.Seed
	if !req.HasSeed {
		seed = NewSeed()
	}

	percentages := simulate(posteriors, e.cfg.Samples, seed)

	result := &Result{
		WindowDays:   windowDays,
		UsedFallback: usedFallback,
		Variants:     make([]VariantAllocation, len(metrics)),
	}
	audit := &Audit{
		ComputedAt:       time.Now().UTC(),
		WindowDays:       windowDays,
		UsedFallback:     usedFallback,
		Seed:             seed,
		Algorithm:        Algorithm,
		AlgorithmVersion: AlgorithmVersion,
		Samples:          e.cfg.Samples,
		Target:           req.Target,
		Variants:         make([]AuditVariant, len(metrics)),
	}

	for i, m := range metrics {
		lower, upper := WilsonInterval(m.Clicks, m.Impressions)
		result.Variants[i] = VariantAllocation{
			VariantID:     m.VariantID,
			VariantName:   m.VariantName,
			IsControl:     m.IsControl,
			AllocationPct: percentages[i],
			Impressions:   m.Impressions,
			Clicks:        m.Clicks,
			Sessions:      m.Sessions,
			Revenue:       m.Revenue,
			CTR:           m.CTR(),
			CTRLower:      lower,
			CTRUpper:      upper,
			RPS:           m.RPS(),
			RPM:           m.RPM(),
		}
		audit.Variants[i] = AuditVariant{
			VariantID:     m.VariantID,
			Posterior:     posteriors[i],
			AllocationPct: percentages[i],
		}
	}

	// Control first, then by share descending: the order readers expect.
	sort.SliceStable(result.Variants, func(i, j int) bool {
		a, b := result.Variants[i], result.Variants[j]
		if a.IsControl != b.IsControl {
			return a.IsControl
		}
		return a.AllocationPct > b.AllocationPct
	})

	return result, audit, nil
}
