package likelihood

// RecomputedPartials returns how many nodes the last Evaluate recomputed.
func (e *Engine) RecomputedPartials() int { return e.recomputedPartials }

// RecomputedSets returns how many ancestral sets the last Evaluate rebuilt.
func (e *Engine) RecomputedSets() int { return e.recomputedSets }
