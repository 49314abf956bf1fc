package bandit

import "fmt"

// Replay recomputes allocation percentages from a stored audit record.
// The audit carries the posterior parameters, sample count and seed of
// the original run, so the output is bit-identical to what was served.
func Replay(a *Audit) ([]float64, error) {
	if a == nil {
		return nil, fmt.Errorf("nil audit")
	}
	if len(a.Variants) < 2 {
		return nil, fmt.Errorf("audit has %d variants, need at least 2", len(a.Variants))
	}
	if a.Samples <= 0 {
		return nil, fmt.Errorf("audit has invalid sample count %d", a.Samples)
	}

	posteriors := make([]Posterior, len(a.Variants))
	for i, v := range a.Variants {
		posteriors[i] = v.Posterior
	}

	return simulate(posteriors, a.Samples, a.Seed), nil
}
