package tree

import "fmt"

type draft struct {
	name        string
	height      float64
	left, right int
	parent      int
}

// Builder assembles a tree bottom-up. Handles returned by Leaf and Join are
// only meaningful to the same Builder; Build assigns the final node ids.
type Builder struct {
	drafts []draft
	leaves int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Leaf adds a named leaf at the given height and returns its handle.
func (b *Builder) Leaf(name string, height float64) int {
	b.drafts = append(b.drafts, draft{name: name, height: height, left: NoNode, right: NoNode, parent: NoNode})
	b.leaves++

	return len(b.drafts) - 1
}

// Join adds an internal node above two existing handles and returns its handle.
func (b *Builder) Join(left, right int, height float64) int {
	b.drafts = append(b.drafts, draft{height: height, left: left, right: right, parent: NoNode})
	id := len(b.drafts) - 1

	if left >= 0 && left < id {
		b.drafts[left].parent = id
	}

	if right >= 0 && right < id {
		b.drafts[right].parent = id
	}

	return id
}

// Build validates the drafts and returns a Tree with leaves numbered first,
// in insertion order, and internal nodes after them in insertion order.
// Every node of a new tree starts filthy.
func (b *Builder) Build() (*Tree, error) {
	if b.leaves < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewLeaves, b.leaves)
	}

	remap := make([]int, len(b.drafts))
	nextLeaf, nextInternal := 0, b.leaves

	for i, d := range b.drafts {
		if d.left == NoNode {
			remap[i] = nextLeaf
			nextLeaf++
		} else {
			remap[i] = nextInternal
			nextInternal++
		}
	}

	t := &Tree{
		nodes:     make([]node, len(b.drafts)),
		byName:    make(map[string]int, b.leaves),
		leafCount: b.leaves,
		root:      NoNode,
	}

	for i, d := range b.drafts {
		id := remap[i]
		n := node{name: d.name, height: d.height, parent: NoNode, left: NoNode, right: NoNode, dirty: Filthy}

		if d.height < 0 {
			return nil, fmt.Errorf("%w: node %d height %g", ErrInvalidHeight, id, d.height)
		}

		if d.parent != NoNode {
			n.parent = remap[d.parent]
		} else {
			if t.root != NoNode {
				return nil, fmt.Errorf("%w: nodes %d and %d", ErrNotSingleRoot, t.root, id)
			}

			t.root = id
		}

		if d.left != NoNode {
			if d.left >= i || d.right >= i || d.right < 0 || d.left == d.right {
				return nil, fmt.Errorf("%w: draft %d", ErrUnknownNode, i)
			}

			if b.drafts[d.left].parent != i || b.drafts[d.right].parent != i {
				return nil, fmt.Errorf("%w: draft %d shares a child", ErrNotSingleRoot, i)
			}

			n.left, n.right = remap[d.left], remap[d.right]

			if b.drafts[d.left].height > d.height || b.drafts[d.right].height > d.height {
				return nil, fmt.Errorf("%w: node %d below a child", ErrHeightOrder, id)
			}
		} else {
			if _, dup := t.byName[d.name]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateName, d.name)
			}

			t.byName[d.name] = id
		}

		t.nodes[id] = n
	}

	return t, nil
}
