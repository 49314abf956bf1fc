package bandit

// OptimizationTarget selects which metric an experiment optimizes.
type OptimizationTarget string

const (
	// TargetCTR optimizes click-through rate (clicks / impressions).
	TargetCTR OptimizationTarget = "ctr"

	// TargetRPS optimizes revenue per session.
	TargetRPS OptimizationTarget = "rps"

	// TargetRPM optimizes revenue per thousand impressions.
	TargetRPM OptimizationTarget = "rpm"
)

// ParseTarget validates and returns an optimization target.
func ParseTarget(s string) (OptimizationTarget, error) {
	switch OptimizationTarget(s) {
	case TargetCTR, TargetRPS, TargetRPM:
		return OptimizationTarget(s), nil
	}
	return "", &ConfigError{Field: "optimization_target", Value: s, Reason: "unknown target"}
}

// Config holds the engine's tuning knobs. It is immutable once handed to
// NewEngine; the engine reads no ambient global state.
type Config struct {
	// Window policy
	DefaultWindowDays int
	MaxWindowDays     int
	MinImpressions    uint64

	// Monte Carlo
	Samples int

	// Beta prior for CTR. Alpha=1, Beta=99 encodes a ~1% prior CTR
	// expectation so a cold-start variant is neither favored nor buried.
	PriorAlpha float64
	PriorBeta  float64

	// Normal prior for RPS/RPM. The observed mean is shrunk toward
	// RevenuePriorMean and the variance scales as RevenuePriorVariance/(1+n).
	RevenuePriorMean     float64
	RevenuePriorVariance float64

	// Variance of the zero-mean prior used when a variant has no
	// denominator at all (sessions=0 for RPS, impressions=0 for RPM).
	FallbackVariance float64
}

// DefaultConfig returns the production defaults. The minimum-impressions
// threshold is deliberately a knob: historical deployments ran both 200
// and 10000.
func DefaultConfig() Config {
	return Config{
		DefaultWindowDays:    14,
		MaxWindowDays:        30,
		MinImpressions:       200,
		Samples:              10000,
		PriorAlpha:           1,
		PriorBeta:            99,
		RevenuePriorMean:     0.01,
		RevenuePriorVariance: 0.01,
		FallbackVariance:     1.0,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Samples <= 0 {
		return &ConfigError{Field: "samples", Value: c.Samples, Reason: "must be positive"}
	}
	if c.DefaultWindowDays <= 0 {
		return &ConfigError{Field: "default_window_days", Value: c.DefaultWindowDays, Reason: "must be positive"}
	}
	if c.MaxWindowDays < c.DefaultWindowDays {
		return &ConfigError{Field: "max_window_days", Value: c.MaxWindowDays, Reason: "must be >= default_window_days"}
	}
	if c.PriorAlpha <= 0 || c.PriorBeta <= 0 {
		return &ConfigError{Field: "prior", Value: c.PriorAlpha, Reason: "Beta prior parameters must be positive"}
	}
	if c.RevenuePriorVariance <= 0 || c.FallbackVariance <= 0 {
		return &ConfigError{Field: "revenue_prior_variance", Value: c.RevenuePriorVariance, Reason: "variances must be positive"}
	}
	return nil
}
