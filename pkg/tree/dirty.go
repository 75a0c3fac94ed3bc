package tree

// DirtyState is the invalidation level of a node's cached likelihood data.
type DirtyState uint8

const (
	// Clean means nothing below or on the node changed.
	Clean DirtyState = iota

	// Dirty means branch lengths or partial values must be recomputed.
	Dirty

	// Filthy means the ancestral state set must be rebuilt, e.g. after a topology change.
	Filthy
)

// String returns the lower-case name of the state.
func (d DirtyState) String() string {
	switch d {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Filthy:
		return "filthy"
	default:
		return "unknown"
	}
}

// Combine returns the effective state of a node from its children's effective
// states and its own externally supplied flag. A node is at least as dirty as
// the dirtier of its children.
func Combine(left, right, self DirtyState) DirtyState {
	return max(left, right, self)
}
