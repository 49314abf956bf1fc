package bandit

import (
	"context"
	"testing"
)

func twoVariantProvider() *fakeProvider {
	return &fakeProvider{byWindow: map[int][]VariantMetrics{
		14: {
			{VariantID: "c", VariantName: "control", IsControl: true, Impressions: 10000, Clicks: 320},
			{VariantID: "t", VariantName: "treatment", Impressions: 10000, Clicks: 420},
		},
	}}
}

func TestAllocateTwoVariantCTR(t *testing.T) {
	cfg := DefaultConfig()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	result, audit, err := engine.Allocate(context.Background(), twoVariantProvider(), Request{
		ExperimentID: "exp",
		Target:       TargetCTR,
		Seed:         1729,
		HasSeed:      true,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if result.UsedFallback {
		t.Error("fallback flagged with sufficient data")
	}
	if result.WindowDays != 14 {
		t.Errorf("window = %d, want 14", result.WindowDays)
	}

	var control, treatment *VariantAllocation
	for i := range result.Variants {
		switch result.Variants[i].VariantID {
		case "c":
			control = &result.Variants[i]
		case "t":
			treatment = &result.Variants[i]
		}
	}
	if control == nil || treatment == nil {
		t.Fatal("missing variant in result")
	}

	if treatment.AllocationPct <= control.AllocationPct {
		t.Errorf("treatment %.2f%% not greater than control %.2f%%",
			treatment.AllocationPct, control.AllocationPct)
	}
	sum := control.AllocationPct + treatment.AllocationPct
	if sum < 99.99 || sum > 100.01 {
		t.Errorf("allocations sum to %.4f", sum)
	}

	// Control sorts first regardless of share.
	if !result.Variants[0].IsControl {
		t.Error("control variant not first in result")
	}

	if audit.Seed != 1729 {
		t.Errorf("audit seed = %d, want 1729", audit.Seed)
	}
	if audit.Algorithm != Algorithm || audit.AlgorithmVersion != AlgorithmVersion {
		t.Errorf("audit identity = %s/%s", audit.Algorithm, audit.AlgorithmVersion)
	}
	if len(audit.Variants) != 2 {
		t.Fatalf("audit has %d variants, want 2", len(audit.Variants))
	}
	for _, av := range audit.Variants {
		if av.Posterior.Kind != PosteriorBeta {
			t.Errorf("variant %s: posterior kind %d, want Beta", av.VariantID, av.Posterior.Kind)
		}
	}
}

func TestAllocateDeterministic(t *testing.T) {
	engine, _ := NewEngine(DefaultConfig())
	req := Request{ExperimentID: "exp", Target: TargetCTR, Seed: 9, HasSeed: true}

	r1, _, err := engine.Allocate(context.Background(), twoVariantProvider(), req)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	r2, _, err := engine.Allocate(context.Background(), twoVariantProvider(), req)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	for i := range r1.Variants {
		if r1.Variants[i].AllocationPct != r2.Variants[i].AllocationPct {
			t.Errorf("variant %s: %.6f != %.6f with same seed",
				r1.Variants[i].VariantID,
				r1.Variants[i].AllocationPct, r2.Variants[i].AllocationPct)
		}
	}
}

func TestAllocateFullFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinImpressions = 10000
	engine, _ := NewEngine(cfg)

	provider := &fakeProvider{byWindow: map[int][]VariantMetrics{
		14: {
			{VariantID: "a", VariantName: "control", IsControl: true, Impressions: 0},
			{VariantID: "b", VariantName: "variant_a", Impressions: 0},
		},
		30: {
			{VariantID: "a", VariantName: "control", IsControl: true, Impressions: 0},
			{VariantID: "b", VariantName: "variant_a", Impressions: 0},
		},
	}}

	result, audit, err := engine.Allocate(context.Background(), provider, Request{
		ExperimentID: "exp", Target: TargetCTR, Seed: 5, HasSeed: true,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if !result.UsedFallback || !audit.UsedFallback {
		t.Error("used_fallback not set for data-free experiment")
	}
	for _, av := range audit.Variants {
		if !av.Posterior.PriorOnly {
			t.Errorf("variant %s: expected prior-only posterior", av.VariantID)
		}
		if av.Posterior.Alpha != 1 || av.Posterior.Beta != 99 {
			t.Errorf("variant %s: posterior Beta(%.0f, %.0f), want prior Beta(1, 99)",
				av.VariantID, av.Posterior.Alpha, av.Posterior.Beta)
		}
	}
}

func TestAllocatePartialFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinImpressions = 10000
	engine, _ := NewEngine(cfg)

	// One variant clears the threshold, the other never does: the audit
	// must flag fallback while the data-rich variant keeps its posterior.
	provider := &fakeProvider{byWindow: map[int][]VariantMetrics{
		14: {
			{VariantID: "a", IsControl: true, Impressions: 20000, Clicks: 600},
			{VariantID: "b", Impressions: 50, Clicks: 2},
		},
		30: {
			{VariantID: "a", IsControl: true, Impressions: 40000, Clicks: 1200},
			{VariantID: "b", Impressions: 90, Clicks: 3},
		},
	}}

	_, audit, err := engine.Allocate(context.Background(), provider, Request{
		ExperimentID: "exp", Target: TargetCTR, Seed: 5, HasSeed: true,
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if !audit.UsedFallback {
		t.Error("audit-level fallback not set when one variant lacks data")
	}
	for _, av := range audit.Variants {
		switch av.VariantID {
		case "a":
			if av.Posterior.PriorOnly {
				t.Error("data-rich variant took the prior-only path")
			}
		case "b":
			if !av.Posterior.PriorOnly {
				t.Error("data-poor variant kept an observed posterior")
			}
		}
	}
}

func TestAllocateRejectsBadData(t *testing.T) {
	engine, _ := NewEngine(DefaultConfig())

	provider := &fakeProvider{byWindow: map[int][]VariantMetrics{
		14: {
			{VariantID: "a", Impressions: 1000, Clicks: 1500},
			{VariantID: "b", Impressions: 1000, Clicks: 100},
		},
	}}

	_, _, err := engine.Allocate(context.Background(), provider, Request{
		ExperimentID: "exp", Target: TargetCTR,
	})
	if err == nil {
		t.Fatal("expected DataError for clicks > impressions")
	}
	if _, ok := err.(*DataError); !ok {
		t.Errorf("expected *DataError, got %T: %v", err, err)
	}
}

func TestAllocateRejectsUnknownTarget(t *testing.T) {
	engine, _ := NewEngine(DefaultConfig())

	_, _, err := engine.Allocate(context.Background(), twoVariantProvider(), Request{
		ExperimentID: "exp", Target: OptimizationTarget("engagement"),
	})
	if err == nil {
		t.Fatal("expected ConfigError for unknown target")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("expected *ConfigError, got %T", err)
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero samples", func(c *Config) { c.Samples = 0 }},
		{"negative window", func(c *Config) { c.DefaultWindowDays = -1 }},
		{"max below default", func(c *Config) { c.MaxWindowDays = c.DefaultWindowDays - 1 }},
		{"zero prior", func(c *Config) { c.PriorAlpha = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg); err == nil {
				t.Error("expected config validation error")
			}
		})
	}
}
