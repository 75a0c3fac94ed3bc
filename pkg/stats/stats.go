// Package stats summarizes benchmark samples.
// Standard deviations are population values (÷n, not ÷(n−1)).
package stats

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Well-known percentile thresholds.
const (
	PercentileMedian = 0.5
	PercentileP95    = 0.95
)

// Summary describes a sample of durations.
type Summary struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Median time.Duration
	P95    time.Duration
	Max    time.Duration
}

// Summarize computes a Summary. The input slice is not modified.
// Returns the zero Summary for an empty slice.
func Summarize(samples []time.Duration) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	values := make([]float64, len(samples))
	for i, d := range samples {
		values[i] = float64(d)
	}

	slices.Sort(values)

	mean, variance := stat.PopMeanVariance(values, nil)

	return Summary{
		Count:  len(values),
		Mean:   time.Duration(mean),
		StdDev: time.Duration(math.Sqrt(variance)),
		Min:    time.Duration(values[0]),
		Median: time.Duration(Percentile(values, PercentileMedian)),
		P95:    time.Duration(Percentile(values, PercentileP95)),
		Max:    time.Duration(values[len(values)-1]),
	}
}

// Percentile returns the p-th percentile of sorted values using linear
// interpolation between closest ranks. p must be in [0, 1].
// Returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	count := len(sorted)
	if count == 0 {
		return 0
	}

	idx := p * float64(count-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))

	if lower == upper || upper >= count {
		return sorted[lower]
	}

	frac := idx - float64(lower)

	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Mean returns the arithmetic mean of values. Returns 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	return stat.Mean(values, nil)
}
