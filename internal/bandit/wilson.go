package bandit

import "math"

// wilsonZ is the two-sided 95% normal quantile.
const wilsonZ = 1.959964

// WilsonInterval computes the 95% Wilson score interval for the observed
// proportion clicks/impressions. It reads the raw counts from the selected
// window, not the posterior. With no impressions the interval is undefined;
// [0, 1] (maximal uncertainty) is returned instead of dividing by zero.
func WilsonInterval(clicks, impressions uint64) (lower, upper float64) {
	if impressions == 0 {
		return 0, 1
	}

	n := float64(impressions)
	p := float64(clicks) / n
	z2 := wilsonZ * wilsonZ

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	half := wilsonZ * math.Sqrt(p*(1-p)/n+z2/(4*n*n)) / denom

	return center - half, center + half
}
