package bandit

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewSeed draws a fresh uint64 seed from the OS entropy source. Callers
// replaying a stored allocation supply the recorded seed instead.
func NewSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand failing means the process is in much deeper trouble;
		// a constant seed still yields a valid (just predictable) run.
		return 0x9e3779b97f4a7c15
	}
	return binary.LittleEndian.Uint64(b[:])
}

// simulate runs samples independent trials. Each trial draws one value per
// variant from its posterior and credits the variant with the strictly
// greatest draw. Exact floating-point ties credit nobody, so the returned
// percentages can sum to slightly under 100; that is documented behavior,
// not corrected.
//
// The whole draw sequence is a pure function of (seed, posteriors, samples):
// same inputs, bit-identical output.
func simulate(posteriors []Posterior, samples int, seed uint64) []float64 {
	rng := rand.New(rand.NewSource(seed))

	samplers := make([]distuv.Rander, len(posteriors))
	for i, p := range posteriors {
		switch p.Kind {
		case PosteriorBeta:
			samplers[i] = distuv.Beta{Alpha: p.Alpha, Beta: p.Beta, Src: rng}
		case PosteriorNormal:
			samplers[i] = distuv.Normal{Mu: p.Mean, Sigma: math.Sqrt(p.Variance), Src: rng}
		}
	}

	wins := make([]uint64, len(posteriors))
	draws := make([]float64, len(posteriors))

	for t := 0; t < samples; t++ {
		for i, s := range samplers {
			draws[i] = s.Rand()
		}

		best := 0
		tied := false
		for i := 1; i < len(draws); i++ {
			switch {
			case draws[i] > draws[best]:
				best = i
				tied = false
			case draws[i] == draws[best]:
				tied = true
			}
		}
		if !tied {
			wins[best]++
		}
	}

	percentages := make([]float64, len(posteriors))
	for i, w := range wins {
		percentages[i] = 100 * float64(w) / float64(samples)
	}
	return percentages
}
