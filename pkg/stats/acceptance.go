package stats

// Acceptance tracks the accept/reject outcomes of a proposal chain: running
// totals and an exponentially weighted recent acceptance rate.
type Acceptance struct {
	alpha     float64
	recent    float64
	proposals int
	accepted  int
}

// NewAcceptance creates a tracker whose recent rate weights each new outcome
// by alpha in (0, 1].
func NewAcceptance(alpha float64) *Acceptance {
	return &Acceptance{alpha: alpha}
}

// Record adds one outcome. The first outcome sets the recent rate outright.
func (a *Acceptance) Record(accepted bool) {
	var v float64
	if accepted {
		v = 1
		a.accepted++
	}

	if a.proposals == 0 {
		a.recent = v
	} else {
		a.recent += a.alpha * (v - a.recent)
	}

	a.proposals++
}

// Proposals returns the number of recorded outcomes.
func (a *Acceptance) Proposals() int { return a.proposals }

// Accepted returns the number of accepted outcomes.
func (a *Acceptance) Accepted() int { return a.accepted }

// Overall returns accepted/proposals, 0 before any outcome.
func (a *Acceptance) Overall() float64 {
	if a.proposals == 0 {
		return 0
	}

	return float64(a.accepted) / float64(a.proposals)
}

// Recent returns the smoothed acceptance rate, 0 before any outcome.
func (a *Acceptance) Recent() float64 { return a.recent }
