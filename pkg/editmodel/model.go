// Package editmodel implements the sequential, irreversible edit-insertion
// substitution model for editing tapes.
//
// Edits are appended left to right at Poisson-distributed counts per unit of
// evolutionary distance; each inserted symbol is drawn from a fixed weight
// vector. Transition probabilities between two tapes have a closed form, so the
// model never builds a rate matrix.
package editmodel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
)

// weightSumTolerance bounds how far the edit weights may drift from summing to one.
const weightSumTolerance = 1e-6

// Sentinel errors.
var (
	ErrInvalidTapeLength  = errors.New("tape length must be positive")
	ErrNoWeights          = errors.New("at least one edit weight is required")
	ErrWeightOutOfRange   = errors.New("edit weight outside [0, 1]")
	ErrWeightSum          = errors.New("edit weights must sum to 1")
	ErrInvalidRate        = errors.New("edit rate must be positive and finite")
	ErrInvalidMissingness = errors.New("invalid heritable missingness parameters")

	// ErrCapacityExceeded is the panic value raised when a transition asks for
	// more inserts than the tape can hold. It signals an inconsistent state pair
	// built by the caller, never a data point.
	ErrCapacityExceeded = errors.New("editmodel: more inserts than remaining tape capacity")
)

// HeritableMissingness configures barcode loss along branches and dropout at tips.
type HeritableMissingness struct {
	// LossRate is the per-unit-distance rate at which a whole tape becomes unreadable.
	LossRate float64

	// TipProbability is the probability that an intact tape is not observed at a tip.
	TipProbability float64
}

// Model is the edit-insertion substitution model. A Model is immutable after New.
type Model struct {
	weights          []float64
	missingness      *HeritableMissingness
	tapeLength       int
	editRate         float64
	perCategoryRate  bool
	positionalPrefix bool
}

// Option configures a Model.
type Option func(*Model)

// WithEditRate sets the Poisson insertion rate per unit distance. Defaults to 1.
func WithEditRate(rate float64) Option {
	return func(m *Model) {
		m.editRate = rate
	}
}

// WithPerCategoryRate makes branch distances scale with the site-model category rate.
func WithPerCategoryRate(enabled bool) Option {
	return func(m *Model) {
		m.perCategoryRate = enabled
	}
}

// WithPositionalPrefix requires the start tape's edits to be a positional
// prefix of the end tape's edits rather than a sub-multiset of them.
func WithPositionalPrefix(enabled bool) Option {
	return func(m *Model) {
		m.positionalPrefix = enabled
	}
}

// WithHeritableMissingness enables barcode loss and tip dropout.
func WithHeritableMissingness(hm HeritableMissingness) Option {
	return func(m *Model) {
		m.missingness = &hm
	}
}

// New builds a model for tapes of tapeLength positions. weights[k-1] is the
// probability that an insertion writes symbol k.
func New(tapeLength int, weights []float64, opts ...Option) (*Model, error) {
	m := &Model{
		tapeLength: tapeLength,
		weights:    append([]float64(nil), weights...),
		editRate:   1,
	}

	for _, opt := range opts {
		opt(m)
	}

	err := m.validate()
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Model) validate() error {
	if m.tapeLength <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTapeLength, m.tapeLength)
	}

	if len(m.weights) == 0 {
		return ErrNoWeights
	}

	var sum float64

	for i, w := range m.weights {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return fmt.Errorf("%w: weight[%d] = %g", ErrWeightOutOfRange, i, w)
		}

		sum += w
	}

	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("%w: got %g", ErrWeightSum, sum)
	}

	if m.editRate <= 0 || math.IsInf(m.editRate, 0) || math.IsNaN(m.editRate) {
		return fmt.Errorf("%w: %g", ErrInvalidRate, m.editRate)
	}

	if hm := m.missingness; hm != nil {
		if hm.LossRate < 0 || math.IsNaN(hm.LossRate) || math.IsInf(hm.LossRate, 0) {
			return fmt.Errorf("%w: loss rate %g", ErrInvalidMissingness, hm.LossRate)
		}

		if hm.TipProbability < 0 || hm.TipProbability >= 1 || math.IsNaN(hm.TipProbability) {
			return fmt.Errorf("%w: tip probability %g", ErrInvalidMissingness, hm.TipProbability)
		}
	}

	return nil
}

// TapeLength returns the number of positions on the tape.
func (m *Model) TapeLength() int { return m.tapeLength }

// Alphabet returns the number of distinct edit symbols.
func (m *Model) Alphabet() int { return len(m.weights) }

// Weights returns a copy of the edit weights.
func (m *Model) Weights() []float64 { return append([]float64(nil), m.weights...) }

// EditRate returns the insertion rate per unit distance.
func (m *Model) EditRate() float64 { return m.editRate }

// PerCategoryRate reports whether site-model category rates scale distances.
func (m *Model) PerCategoryRate() bool { return m.perCategoryRate }

// HasMissingness reports whether heritable missingness is enabled.
func (m *Model) HasMissingness() bool { return m.missingness != nil }

// weight returns the insertion weight of an edit symbol; unknown symbols weigh 0.
func (m *Model) weight(symbol int) float64 {
	if symbol < 1 || symbol > len(m.weights) {
		return 0
	}

	return m.weights[symbol-1]
}

// NewInserts returns the symbols inserted on a branch from start to end. ok is
// false when end cannot descend from start: start carries more edits, or
// start's edits are not contained in end's (as a multiset, or as a positional
// prefix when WithPositionalPrefix is set).
func (m *Model) NewInserts(start, end tape.Tape) (inserts []int, ok bool) {
	if start.IsMissing() {
		return nil, false
	}

	editedStart := start.Edited()
	editedEnd := end.Edited()

	if len(editedStart) > len(editedEnd) {
		return nil, false
	}

	if m.positionalPrefix {
		for i, s := range editedStart {
			if editedEnd[i] != s {
				return nil, false
			}
		}

		return append([]int(nil), editedEnd[len(editedStart):]...), true
	}

	remaining := append([]int(nil), editedEnd...)

	for _, s := range editedStart {
		idx := indexOf(remaining, s)
		if idx < 0 {
			return nil, false
		}

		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	return remaining, true
}

// TransitionProbability returns the probability that a tape in state start is
// in state end after the given evolutionary distance.
func (m *Model) TransitionProbability(start, end tape.Tape, distance float64) float64 {
	if end.IsMissing() {
		if start.IsMissing() {
			return 1
		}

		return m.lossProbability(distance)
	}

	inserts, ok := m.NewInserts(start, end)
	if !ok {
		return 0
	}

	capacity := m.tapeLength - start.EditCount()
	n := len(inserts)
	mean := m.editRate * distance

	var p float64

	switch {
	case n < capacity:
		p = poissonPMF(n, mean)
	case n == capacity:
		p = poissonSurvival(capacity, mean)
	default:
		panic(fmt.Errorf("%w: %d inserts, capacity %d", ErrCapacityExceeded, n, capacity))
	}

	for _, s := range inserts {
		p *= m.weight(s)
	}

	return p * m.survival(distance)
}

// TipProbability is TransitionProbability for a branch that ends at an observed
// tip, folding in tip dropout when heritable missingness is enabled.
func (m *Model) TipProbability(start, end tape.Tape, distance float64) float64 {
	if m.missingness == nil {
		return m.TransitionProbability(start, end, distance)
	}

	keep := 1 - m.missingness.TipProbability

	if end.IsMissing() {
		if start.IsMissing() {
			return 1
		}

		return 1 - m.survival(distance)*keep
	}

	return m.TransitionProbability(start, end, distance) * keep
}

// Cost returns the number of edits inserted on a branch from start to end, the
// parsimony transition cost. A missing end costs nothing.
func (m *Model) Cost(start, end tape.Tape) (int, bool) {
	if end.IsMissing() {
		return 0, true
	}

	inserts, ok := m.NewInserts(start, end)
	if !ok {
		return 0, false
	}

	return len(inserts), true
}

// Survival is the probability that a tape is not lost over distance. It is 1
// without heritable missingness.
func (m *Model) Survival(distance float64) float64 {
	return m.survival(distance)
}

func (m *Model) survival(distance float64) float64 {
	if m.missingness == nil || m.missingness.LossRate == 0 {
		return 1
	}

	return math.Exp(-m.missingness.LossRate * distance)
}

// lossProbability is the transition probability into the missing state.
// Without heritable missingness, missing data carries no information.
func (m *Model) lossProbability(distance float64) float64 {
	if m.missingness == nil {
		return 1
	}

	return 1 - m.survival(distance)
}

func poissonPMF(n int, mean float64) float64 {
	if mean == 0 {
		if n == 0 {
			return 1
		}

		return 0
	}

	return distuv.Poisson{Lambda: mean}.Prob(float64(n))
}

// poissonSurvival returns P(N >= k) for N ~ Poisson(mean).
func poissonSurvival(k int, mean float64) float64 {
	if k <= 0 {
		return 1
	}

	if mean == 0 {
		return 0
	}

	return 1 - distuv.Poisson{Lambda: mean}.CDF(float64(k-1))
}

func indexOf(values []int, v int) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}

	return -1
}
