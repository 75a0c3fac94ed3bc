// Package clock supplies per-branch rate multipliers and rate categories.
package clock

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sentinel errors.
var (
	ErrInvalidRate       = errors.New("rate must be positive and finite")
	ErrNoCategories      = errors.New("at least one rate category is required")
	ErrInvalidShape      = errors.New("gamma shape must be positive")
	ErrRateCountMismatch = errors.New("rate count does not match node count")
)

// BranchRates returns the clock rate multiplier of the branch above a node.
type BranchRates interface {
	Rate(nodeID int) float64
}

// Strict is a global clock: every branch has the same rate.
type Strict float64

// Rate returns the global rate.
func (s Strict) Rate(int) float64 { return float64(s) }

// PerBranch holds one rate per node id with store/restore support for a
// search driver that proposes rate changes.
type PerBranch struct {
	rates  []float64
	stored []float64
}

// NewPerBranch builds per-branch rates, one entry per node id.
func NewPerBranch(rates []float64) (*PerBranch, error) {
	for i, r := range rates {
		if !validRate(r) {
			return nil, fmt.Errorf("%w: node %d rate %g", ErrInvalidRate, i, r)
		}
	}

	return &PerBranch{rates: append([]float64(nil), rates...)}, nil
}

// Rate returns the rate of the branch above nodeID.
func (p *PerBranch) Rate(nodeID int) float64 { return p.rates[nodeID] }

// Len returns the number of rates.
func (p *PerBranch) Len() int { return len(p.rates) }

// Set changes the rate of one branch.
func (p *PerBranch) Set(nodeID int, rate float64) error {
	if !validRate(rate) {
		return fmt.Errorf("%w: %g", ErrInvalidRate, rate)
	}

	p.rates[nodeID] = rate

	return nil
}

// Store snapshots the rates.
func (p *PerBranch) Store() {
	p.stored = append(p.stored[:0], p.rates...)
}

// Restore swaps the snapshot back in. No-op before the first Store.
func (p *PerBranch) Restore() {
	if p.stored == nil {
		return
	}

	p.rates, p.stored = p.stored, p.rates
	copy(p.stored, p.rates)
}

// SiteModel holds relative rate categories mixed with uniform weights.
type SiteModel struct {
	rates []float64
}

// NewSiteModel builds a site model from explicit category rates.
func NewSiteModel(rates ...float64) (*SiteModel, error) {
	if len(rates) == 0 {
		return nil, ErrNoCategories
	}

	for i, r := range rates {
		if !validRate(r) {
			return nil, fmt.Errorf("%w: category %d rate %g", ErrInvalidRate, i, r)
		}
	}

	return &SiteModel{rates: append([]float64(nil), rates...)}, nil
}

// SingleCategory returns a site model with one rate-one category.
func SingleCategory() *SiteModel {
	return &SiteModel{rates: []float64{1}}
}

// GammaCategories discretizes a mean-one gamma distribution into n equal
// probability categories, each represented by its median and renormalized so
// the category rates average to one.
func GammaCategories(shape float64, n int) (*SiteModel, error) {
	if n <= 0 {
		return nil, ErrNoCategories
	}

	if shape <= 0 || math.IsNaN(shape) || math.IsInf(shape, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidShape, shape)
	}

	if n == 1 {
		return SingleCategory(), nil
	}

	g := distuv.Gamma{Alpha: shape, Beta: shape}
	rates := make([]float64, n)

	var sum float64

	for i := range rates {
		rates[i] = g.Quantile((float64(i) + 0.5) / float64(n))
		sum += rates[i]
	}

	mean := sum / float64(n)
	for i := range rates {
		rates[i] /= mean
	}

	return NewSiteModel(rates...)
}

// CategoryCount returns the number of categories.
func (s *SiteModel) CategoryCount() int { return len(s.rates) }

// CategoryRate returns the relative rate of category c.
func (s *SiteModel) CategoryRate(c int) float64 { return s.rates[c] }

// Rates returns a copy of the category rates.
func (s *SiteModel) Rates() []float64 { return append([]float64(nil), s.rates...) }

func validRate(r float64) bool {
	return r > 0 && !math.IsInf(r, 0) && !math.IsNaN(r)
}
