package stats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/tapeline/pkg/stats"
)

func TestPercentile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []float64
		p      float64
		want   float64
	}{
		{name: "empty", values: nil, p: 0.5, want: 0},
		{name: "single", values: []float64{7}, p: 0.95, want: 7},
		{name: "median odd", values: []float64{1, 2, 3}, p: 0.5, want: 2},
		{name: "median even", values: []float64{1, 2, 3, 4}, p: 0.5, want: 2.5},
		{name: "interpolated", values: []float64{0, 10}, p: 0.95, want: 9.5},
		{name: "max", values: []float64{1, 5, 9}, p: 1, want: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tt.want, stats.Percentile(tt.values, tt.p), 1e-9)
		})
	}
}

func TestMean(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0, stats.Mean(nil), 0)
	assert.InDelta(t, 2.5, stats.Mean([]float64{1, 2, 3, 4}), 1e-12)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	samples := []time.Duration{
		4 * time.Millisecond,
		2 * time.Millisecond,
		8 * time.Millisecond,
		6 * time.Millisecond,
	}

	got := stats.Summarize(samples)

	assert.Equal(t, 4, got.Count)
	assert.Equal(t, 5*time.Millisecond, got.Mean)
	assert.Equal(t, 2*time.Millisecond, got.Min)
	assert.Equal(t, 8*time.Millisecond, got.Max)
	assert.Equal(t, 5*time.Millisecond, got.Median)
	assert.InDelta(t, float64(7700*time.Microsecond), float64(got.P95), float64(time.Microsecond))
	// Population stddev of {2,4,6,8} ms is sqrt(5) ms.
	assert.InDelta(t, 2.2360679e6, float64(got.StdDev), 1e3)

	// Input order is preserved.
	assert.Equal(t, 4*time.Millisecond, samples[0])
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, stats.Summary{}, stats.Summarize(nil))
}
