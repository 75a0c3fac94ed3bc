// Package ancestry builds ancestral state sets for editing tapes.
//
// Because tapes fill left to right and never revert, every ancestor of an
// observed tape is obtained by un-editing a suffix of its edited positions.
// The candidate set of a tape with e edits therefore has e+1 members instead of
// growing exponentially with tape length.
package ancestry

import "github.com/Sumatoshi-tech/tapeline/pkg/tape"

// Fallback selects what Intersect returns when two non-missing sets share no state.
type Fallback int

const (
	// FallbackNone returns the empty set. Used by the likelihood engine, where an
	// empty intersection means the data has zero probability under the model.
	FallbackNone Fallback = iota

	// FallbackUnedited returns the all-unedited singleton. Used by parsimony.
	FallbackUnedited
)

// PossibleAncestors returns the ordered chain of tapes that could be ancestors
// of t: t itself, then t with its last edit reset, and so on down to the
// all-unedited tape. A missing tape yields a single missing wildcard.
func PossibleAncestors(t tape.Tape) []tape.Tape {
	if t.IsMissing() {
		return []tape.Tape{t.Clone()}
	}

	out := make([]tape.Tape, 0, t.EditCount()+1)
	prev := t.Clone()
	out = append(out, prev)

	for i := len(t) - 1; i >= 0; i-- {
		if t[i] == tape.UneditedSymbol {
			continue
		}

		next := prev.Clone()
		next[i] = tape.UneditedSymbol
		out = append(out, next)
		prev = next
	}

	return out
}

// IsMissingSet reports whether set is the single missing wildcard.
func IsMissingSet(set []tape.Tape) bool {
	return len(set) == 1 && set[0].IsMissing()
}

// Intersect combines two child ancestral sets into the parent's set.
// A missing wildcard imposes no constraint. tapeLength sizes the unedited
// fallback state.
func Intersect(a, b []tape.Tape, fallback Fallback, tapeLength int) []tape.Tape {
	aMissing, bMissing := IsMissingSet(a), IsMissingSet(b)

	switch {
	case aMissing && bMissing:
		return []tape.Tape{a[0].Clone()}
	case aMissing:
		return cloneSet(b)
	case bMissing:
		return cloneSet(a)
	}

	members := make(map[string]struct{}, len(b))
	for _, t := range b {
		members[t.Key()] = struct{}{}
	}

	out := make([]tape.Tape, 0, min(len(a), len(b)))

	for _, t := range a {
		if _, ok := members[t.Key()]; ok {
			out = append(out, t.Clone())
		}
	}

	if len(out) == 0 && fallback == FallbackUnedited {
		return []tape.Tape{tape.Unedited(tapeLength)}
	}

	return out
}

// Longest returns the member with the greatest edit count. Ties keep the
// earliest member. ok is false for an empty set.
func Longest(set []tape.Tape) (best tape.Tape, ok bool) {
	if len(set) == 0 {
		return nil, false
	}

	best = set[0]

	for _, t := range set[1:] {
		if t.EditCount() > best.EditCount() {
			best = t
		}
	}

	return best.Clone(), true
}

func cloneSet(set []tape.Tape) []tape.Tape {
	out := make([]tape.Tape, len(set))
	for i, t := range set {
		out[i] = t.Clone()
	}

	return out
}
