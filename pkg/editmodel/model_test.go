package editmodel_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tapeline/pkg/editmodel"
	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
)

const tolerance = 1e-12

func poisson(n int, mean float64) float64 {
	lg, _ := math.Lgamma(float64(n) + 1)

	return math.Exp(float64(n)*math.Log(mean) - mean - lg)
}

func mustModel(t *testing.T, tapeLength int, weights []float64, opts ...editmodel.Option) *editmodel.Model {
	t.Helper()

	m, err := editmodel.New(tapeLength, weights, opts...)
	require.NoError(t, err)

	return m
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		tapeLength int
		weights    []float64
		opts       []editmodel.Option
		want       error
	}{
		{name: "zero_length", tapeLength: 0, weights: []float64{1}, want: editmodel.ErrInvalidTapeLength},
		{name: "no_weights", tapeLength: 3, want: editmodel.ErrNoWeights},
		{name: "negative_weight", tapeLength: 3, weights: []float64{1.5, -0.5}, want: editmodel.ErrWeightOutOfRange},
		{name: "bad_sum", tapeLength: 3, weights: []float64{0.5, 0.4}, want: editmodel.ErrWeightSum},
		{name: "zero_rate", tapeLength: 3, weights: []float64{1}, opts: []editmodel.Option{editmodel.WithEditRate(0)}, want: editmodel.ErrInvalidRate},
		{
			name: "tip_probability_one", tapeLength: 3, weights: []float64{1},
			opts: []editmodel.Option{editmodel.WithHeritableMissingness(editmodel.HeritableMissingness{TipProbability: 1})},
			want: editmodel.ErrInvalidMissingness,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := editmodel.New(tt.tapeLength, tt.weights, tt.opts...)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_SumWithinTolerance(t *testing.T) {
	t.Parallel()

	m, err := editmodel.New(5, []float64{0.3333333, 0.3333333, 0.3333334 + 5e-7})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Alphabet())
	assert.InDelta(t, 1.0, m.EditRate(), tolerance)
}

func TestTransitionProbability(t *testing.T) {
	t.Parallel()

	weights := []float64{0.5, 0.3, 0.2}
	m := mustModel(t, 5, weights)

	tests := []struct {
		name       string
		start, end string
		distance   float64
		want       float64
	}{
		{name: "identity_zero_distance", start: "1,2,0,0,0", end: "1,2,0,0,0", distance: 0, want: 1},
		{name: "no_insert", start: "1,2,0,0,0", end: "1,2,0,0,0", distance: 2, want: poisson(0, 2)},
		{name: "one_insert", start: "1,0,0,0,0", end: "1,3,0,0,0", distance: 1.5, want: poisson(1, 1.5) * 0.2},
		{name: "two_inserts", start: "0,0,0,0,0", end: "2,1,0,0,0", distance: 0.7, want: poisson(2, 0.7) * 0.3 * 0.5},
		{name: "fewer_edits", start: "1,2,0,0,0", end: "1,0,0,0,0", distance: 3, want: 0},
		{name: "missing_end", start: "1,2,0,0,0", end: "-1,-1,-1,-1,-1", distance: 3, want: 1},
		{name: "missing_start", start: "-1,-1,-1,-1,-1", end: "1,0,0,0,0", distance: 3, want: 0},
		{name: "saturated_identity", start: "1,1,1,1,1", end: "1,1,1,1,1", distance: 4, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := m.TransitionProbability(tape.MustParse(tt.start), tape.MustParse(tt.end), tt.distance)
			assert.InDelta(t, tt.want, got, tolerance)
		})
	}
}

func TestTransitionProbability_Saturation(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 3, []float64{0.6, 0.4})
	mean := 1.3

	got := m.TransitionProbability(tape.MustParse("1,0,0"), tape.MustParse("1,2,1"), mean)

	survival := 1 - poisson(0, mean) - poisson(1, mean)
	assert.InDelta(t, survival*0.4*0.6, got, tolerance)
}

func TestTransitionProbability_EditRateScalesMean(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 5, []float64{1}, editmodel.WithEditRate(2))

	got := m.TransitionProbability(tape.MustParse("0,0,0,0,0"), tape.MustParse("1,0,0,0,0"), 1.5)
	assert.InDelta(t, poisson(1, 3), got, tolerance)
}

func TestTransitionProbability_MultisetVersusPositional(t *testing.T) {
	t.Parallel()

	start := tape.MustParse("2,0,0,0")
	end := tape.MustParse("1,2,0,0")

	multiset := mustModel(t, 4, []float64{0.5, 0.5})
	assert.Positive(t, multiset.TransitionProbability(start, end, 1))

	positional := mustModel(t, 4, []float64{0.5, 0.5}, editmodel.WithPositionalPrefix(true))
	assert.Zero(t, positional.TransitionProbability(start, end, 1))

	// Inverted pairs fail on the length check under both rules.
	assert.Zero(t, multiset.TransitionProbability(end, start, 1))
}

func TestTransitionProbability_UnmatchedStartSymbol(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 3, []float64{0.5, 0.5})

	got := m.TransitionProbability(tape.MustParse("1,0,0"), tape.MustParse("2,2,0"), 1)
	assert.Zero(t, got)
}

func TestTransitionProbability_CapacityExceededPanics(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 3, []float64{1})

	assert.Panics(t, func() {
		m.TransitionProbability(tape.MustParse("0,0,0"), tape.MustParse("1,1,1,1"), 1)
	})
}

// reachable enumerates every tape reachable from start by appending symbols.
func reachable(start tape.Tape, alphabet int) []tape.Tape {
	out := []tape.Tape{start}

	next := start.EditCount()
	if next == len(start) {
		return out
	}

	for s := 1; s <= alphabet; s++ {
		child := start.Clone()
		child[next] = s
		out = append(out, reachable(child, alphabet)...)
	}

	return out
}

func TestTransitionProbability_SumsToOne(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 4, []float64{0.2, 0.5, 0.3})

	for _, start := range []string{"0,0,0,0", "2,0,0,0", "3,1,2,0"} {
		for _, d := range []float64{0.01, 0.5, 2, 10} {
			s := tape.MustParse(start)

			var total float64
			for _, end := range reachable(s, m.Alphabet()) {
				total += m.TransitionProbability(s, end, d)
			}

			assert.InDelta(t, 1.0, total, 1e-9, "start=%s distance=%g", start, d)
		}
	}
}

func TestHeritableMissingness(t *testing.T) {
	t.Parallel()

	hm := editmodel.HeritableMissingness{LossRate: 0.2, TipProbability: 0.1}
	m := mustModel(t, 3, []float64{1}, editmodel.WithHeritableMissingness(hm))
	base := mustModel(t, 3, []float64{1})

	start := tape.MustParse("1,0,0")
	end := tape.MustParse("1,1,0")
	missing := tape.Missing(3)
	d := 2.0
	survival := math.Exp(-0.2 * d)

	assert.True(t, m.HasMissingness())
	assert.InDelta(t, base.TransitionProbability(start, end, d)*survival, m.TransitionProbability(start, end, d), tolerance)
	assert.InDelta(t, 1-survival, m.TransitionProbability(start, missing, d), tolerance)
	assert.InDelta(t, base.TransitionProbability(start, end, d)*survival*0.9, m.TipProbability(start, end, d), tolerance)
	assert.InDelta(t, 1-survival*0.9, m.TipProbability(start, missing, d), tolerance)
	assert.InDelta(t, 1.0, m.TransitionProbability(missing, missing, d), tolerance)

	// Without the option, tips and internal branches are scored alike.
	assert.InDelta(t, base.TransitionProbability(start, end, d), base.TipProbability(start, end, d), tolerance)
}

func TestCost(t *testing.T) {
	t.Parallel()

	m := mustModel(t, 5, []float64{0.25, 0.25, 0.25, 0.25})

	cost, ok := m.Cost(tape.MustParse("1,2,0,0,0"), tape.MustParse("1,2,3,0,0"))
	require.True(t, ok)
	assert.Equal(t, 1, cost)

	cost, ok = m.Cost(tape.Unedited(5), tape.MustParse("1,2,0,0,0"))
	require.True(t, ok)
	assert.Equal(t, 2, cost)

	cost, ok = m.Cost(tape.MustParse("1,0,0,0,0"), tape.Missing(5))
	require.True(t, ok)
	assert.Zero(t, cost)

	_, ok = m.Cost(tape.MustParse("1,2,0,0,0"), tape.MustParse("1,0,0,0,0"))
	assert.False(t, ok)
}
