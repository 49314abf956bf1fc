package bandit

// PosteriorKind tags the closed set of posterior families the simulator
// knows how to sample.
type PosteriorKind int

const (
	// PosteriorBeta is the exact Beta-Bernoulli conjugate posterior (CTR).
	PosteriorBeta PosteriorKind = iota

	// PosteriorNormal is the Normal approximation used for RPS/RPM.
	PosteriorNormal
)

// Posterior is a variant's belief distribution plus its reporting point
// estimate. Derived deterministically from VariantMetrics and the prior
// constants; never mutated after construction.
type Posterior struct {
	Kind PosteriorKind

	// Beta shape parameters (Kind == PosteriorBeta)
	Alpha float64
	Beta  float64

	// Normal moments (Kind == PosteriorNormal)
	Mean     float64
	Variance float64
	N        uint64

	// PriorOnly marks a variant that lacked the data to inform its
	// posterior; the allocation still samples it from the prior.
	PriorOnly bool

	// PointEstimate is the observed CTR/RPS/RPM for reporting.
	PointEstimate float64
}

// newPosterior maps one variant's counters into its posterior under the
// experiment's optimization target.
func newPosterior(m VariantMetrics, target OptimizationTarget, cfg Config) (Posterior, error) {
	switch target {
	case TargetCTR:
		return ctrPosterior(m, cfg), nil
	case TargetRPS:
		return revenuePosterior(m.Revenue.InexactFloat64(), m.Sessions, m.Impressions, m.RPS(), cfg), nil
	case TargetRPM:
		return revenuePosterior(m.Revenue.InexactFloat64()*1000, m.Impressions, m.Impressions, m.RPM(), cfg), nil
	}
	return Posterior{}, &ConfigError{Field: "optimization_target", Value: string(target), Reason: "unknown target"}
}

func ctrPosterior(m VariantMetrics, cfg Config) Posterior {
	if m.Impressions < cfg.MinImpressions {
		return Posterior{
			Kind:          PosteriorBeta,
			Alpha:         cfg.PriorAlpha,
			Beta:          cfg.PriorBeta,
			PriorOnly:     true,
			PointEstimate: m.CTR(),
		}
	}
	return Posterior{
		Kind:          PosteriorBeta,
		Alpha:         cfg.PriorAlpha + float64(m.Clicks),
		Beta:          cfg.PriorBeta + float64(m.Impressions-m.Clicks),
		PointEstimate: m.CTR(),
	}
}

// revenuePosterior builds the Normal approximation for RPS/RPM. There is no
// closed-form conjugate here; the observed mean is shrunk toward the prior
// and the variance contracts as 1/(1+n). A zero denominator falls back to a
// zero-mean, high-variance prior so the variant stays sampleable without
// NaN or division by zero.
func revenuePosterior(revenue float64, count, impressions uint64, observed float64, cfg Config) Posterior {
	if count == 0 || impressions < cfg.MinImpressions {
		return Posterior{
			Kind:          PosteriorNormal,
			Mean:          0,
			Variance:      cfg.FallbackVariance,
			N:             0,
			PriorOnly:     true,
			PointEstimate: observed,
		}
	}

	// (prior_mean + observed_mean*n) / (1+n); observed_mean*n is just the total.
	n := float64(count)
	mean := (cfg.RevenuePriorMean + revenue) / (1 + n)
	variance := cfg.RevenuePriorVariance / (1 + n)
	if variance < 1e-10 {
		variance = 1e-10 // keep the sampler away from a degenerate sigma
	}

	return Posterior{
		Kind:          PosteriorNormal,
		Mean:          mean,
		Variance:      variance,
		N:             count,
		PointEstimate: observed,
	}
}
