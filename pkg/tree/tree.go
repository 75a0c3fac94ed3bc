// Package tree provides the rooted binary time tree scored by the likelihood
// and parsimony engines.
//
// Nodes live in a flat arena and are addressed by stable integer ids: leaves
// take ids 0..n-1, internal nodes n..2n-2. Mutations set per-node dirty flags
// the way a search driver's proposal operators would; engines only read them
// through the View interface.
package tree

import (
	"errors"
	"fmt"
)

// NoNode marks an absent parent or child link.
const NoNode = -1

// Sentinel errors.
var (
	ErrTooFewLeaves   = errors.New("tree needs at least two leaves")
	ErrUnknownNode    = errors.New("unknown node")
	ErrDuplicateName  = errors.New("duplicate leaf name")
	ErrNotSingleRoot  = errors.New("tree must have exactly one root")
	ErrHeightOrder    = errors.New("node height violates parent/child ordering")
	ErrInvalidHeight  = errors.New("invalid node height")
	ErrInvalidFactor  = errors.New("scale factor must be positive")
	ErrNestedExchange = errors.New("exchanged subtrees must not be nested")
	ErrSiblings       = errors.New("exchanged subtrees share a parent")
)

// View is the read-only tree surface consumed by the scoring engines.
type View interface {
	NodeCount() int
	LeafCount() int
	Root() int
	IsLeaf(id int) bool
	Children(id int) (left, right int)
	Height(id int) float64
	BranchLength(id int) float64
	Dirty(id int) DirtyState
	Name(id int) string
}

type node struct {
	name   string
	height float64
	parent int
	left   int
	right  int
	dirty  DirtyState
}

// Tree is an arena-backed rooted binary tree with node heights.
type Tree struct {
	nodes     []node
	stored    []node
	byName    map[string]int
	leafCount int
	root      int
	storeRoot int
}

var _ View = (*Tree)(nil)

// NodeCount returns the number of nodes, 2n-1 for n leaves.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int { return t.leafCount }

// Root returns the root node id.
func (t *Tree) Root() int { return t.root }

// IsLeaf reports whether id is a leaf.
func (t *Tree) IsLeaf(id int) bool { return id < t.leafCount }

// Children returns the two children of an internal node, or NoNode for a leaf.
func (t *Tree) Children(id int) (left, right int) {
	n := t.nodes[id]

	return n.left, n.right
}

// Parent returns the parent id, or NoNode for the root.
func (t *Tree) Parent(id int) int { return t.nodes[id].parent }

// Height returns the node's height above the present.
func (t *Tree) Height(id int) float64 { return t.nodes[id].height }

// BranchLength returns the length of the branch above id; zero for the root.
func (t *Tree) BranchLength(id int) float64 {
	p := t.nodes[id].parent
	if p == NoNode {
		return 0
	}

	return t.nodes[p].height - t.nodes[id].height
}

// Dirty returns the node's own invalidation flag.
func (t *Tree) Dirty(id int) DirtyState { return t.nodes[id].dirty }

// Name returns the leaf name; internal nodes are usually unnamed.
func (t *Tree) Name(id int) string { return t.nodes[id].name }

// LeafIndex returns the id of the leaf with the given name.
func (t *Tree) LeafIndex(name string) (int, bool) {
	id, ok := t.byName[name]

	return id, ok
}

// LeafNames returns leaf names in id order.
func (t *Tree) LeafNames() []string {
	out := make([]string, t.leafCount)
	for i := range out {
		out[i] = t.nodes[i].name
	}

	return out
}

// SetHeight moves a node. The node and its children become dirty because the
// branch above the node and both branches below it change length.
func (t *Tree) SetHeight(id int, height float64) error {
	if id < 0 || id >= len(t.nodes) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}

	if height < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidHeight, height)
	}

	n := &t.nodes[id]

	if n.parent != NoNode && height > t.nodes[n.parent].height {
		return fmt.Errorf("%w: node %d above its parent", ErrHeightOrder, id)
	}

	if !t.IsLeaf(id) && (height < t.nodes[n.left].height || height < t.nodes[n.right].height) {
		return fmt.Errorf("%w: node %d below a child", ErrHeightOrder, id)
	}

	n.height = height
	t.markDirty(id, Dirty)

	if !t.IsLeaf(id) {
		t.markDirty(n.left, Dirty)
		t.markDirty(n.right, Dirty)
	}

	return nil
}

// ScaleHeights multiplies every node height by factor and marks all nodes dirty.
func (t *Tree) ScaleHeights(factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidFactor, factor)
	}

	for i := range t.nodes {
		t.nodes[i].height *= factor
		t.markDirty(i, Dirty)
	}

	return nil
}

// Exchange swaps the subtrees rooted at a and b between their parents. Both
// parents become filthy because their ancestral state sets change.
func (t *Tree) Exchange(a, b int) error {
	if a < 0 || a >= len(t.nodes) || b < 0 || b >= len(t.nodes) {
		return fmt.Errorf("%w: %d, %d", ErrUnknownNode, a, b)
	}

	if a == t.root || b == t.root || t.isAncestor(a, b) || t.isAncestor(b, a) {
		return fmt.Errorf("%w: %d, %d", ErrNestedExchange, a, b)
	}

	pa, pb := t.nodes[a].parent, t.nodes[b].parent
	if pa == pb {
		return fmt.Errorf("%w: %d, %d", ErrSiblings, a, b)
	}

	if t.nodes[a].height > t.nodes[pb].height || t.nodes[b].height > t.nodes[pa].height {
		return fmt.Errorf("%w: exchange %d, %d", ErrHeightOrder, a, b)
	}

	t.replaceChild(pa, a, b)
	t.replaceChild(pb, b, a)
	t.nodes[a].parent, t.nodes[b].parent = pb, pa

	t.markDirty(a, Dirty)
	t.markDirty(b, Dirty)
	t.markDirty(pa, Filthy)
	t.markDirty(pb, Filthy)

	return nil
}

// MarkAllFilthy forces every node to be rebuilt from scratch.
func (t *Tree) MarkAllFilthy() {
	for i := range t.nodes {
		t.nodes[i].dirty = Filthy
	}
}

// SetAllClean clears every dirty flag. A search driver calls this after an
// accepted or rejected proposal has been evaluated.
func (t *Tree) SetAllClean() {
	for i := range t.nodes {
		t.nodes[i].dirty = Clean
	}
}

// Store snapshots heights, links and flags.
func (t *Tree) Store() {
	t.stored = append(t.stored[:0], t.nodes...)
	t.storeRoot = t.root
}

// Restore reverts to the last Store. It is a no-op before the first Store.
func (t *Tree) Restore() {
	if t.stored == nil {
		return
	}

	t.nodes = append(t.nodes[:0], t.stored...)
	t.root = t.storeRoot
}

// Copy returns an independent deep copy without stored state.
func (t *Tree) Copy() *Tree {
	clone := &Tree{
		nodes:     append([]node(nil), t.nodes...),
		byName:    make(map[string]int, len(t.byName)),
		leafCount: t.leafCount,
		root:      t.root,
	}

	for k, v := range t.byName {
		clone.byName[k] = v
	}

	return clone
}

func (t *Tree) markDirty(id int, state DirtyState) {
	t.nodes[id].dirty = max(t.nodes[id].dirty, state)
}

func (t *Tree) replaceChild(parent, oldChild, newChild int) {
	p := &t.nodes[parent]
	if p.left == oldChild {
		p.left = newChild
	} else {
		p.right = newChild
	}
}

// isAncestor reports whether a is a proper ancestor of b.
func (t *Tree) isAncestor(a, b int) bool {
	for p := t.nodes[b].parent; p != NoNode; p = t.nodes[p].parent {
		if p == a {
			return true
		}
	}

	return false
}
