package tree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNewick reports a malformed Newick string.
var ErrNewick = errors.New("malformed newick")

type newickNode struct {
	name     string
	length   float64
	children []*newickNode
}

// ParseNewick reads a rooted, strictly binary Newick tree with branch lengths,
// e.g. "((A:5,B:5):1,C:6);". Node heights are measured from the deepest tip,
// so the deepest tip sits at height zero.
func ParseNewick(s string) (*Tree, error) {
	p := &newickParser{src: strings.TrimSpace(s)}

	root, err := p.subtree()
	if err != nil {
		return nil, err
	}

	p.skipSpace()

	if !p.consume(';') {
		return nil, fmt.Errorf("%w: expected ';' at offset %d", ErrNewick, p.pos)
	}

	p.skipSpace()

	if p.pos != len(p.src) {
		return nil, fmt.Errorf("%w: trailing input at offset %d", ErrNewick, p.pos)
	}

	var maxDepth float64

	depths := make(map[*newickNode]float64)
	walkDepth(root, 0, depths, &maxDepth)

	b := NewBuilder()
	build(b, root, depths, maxDepth)

	return b.Build()
}

func walkDepth(n *newickNode, depth float64, depths map[*newickNode]float64, maxDepth *float64) {
	depths[n] = depth
	*maxDepth = max(*maxDepth, depth)

	for _, c := range n.children {
		walkDepth(c, depth+c.length, depths, maxDepth)
	}
}

func build(b *Builder, n *newickNode, depths map[*newickNode]float64, maxDepth float64) int {
	height := maxDepth - depths[n]

	if len(n.children) == 0 {
		return b.Leaf(n.name, height)
	}

	left := build(b, n.children[0], depths, maxDepth)
	right := build(b, n.children[1], depths, maxDepth)

	return b.Join(left, right, height)
}

type newickParser struct {
	src string
	pos int
}

func (p *newickParser) subtree() (*newickNode, error) {
	p.skipSpace()

	n := &newickNode{}

	if p.consume('(') {
		for {
			child, err := p.subtree()
			if err != nil {
				return nil, err
			}

			n.children = append(n.children, child)

			p.skipSpace()

			if p.consume(',') {
				continue
			}

			if p.consume(')') {
				break
			}

			return nil, fmt.Errorf("%w: expected ',' or ')' at offset %d", ErrNewick, p.pos)
		}

		if len(n.children) != 2 {
			return nil, fmt.Errorf("%w: node with %d children at offset %d", ErrNewick, len(n.children), p.pos)
		}
	}

	n.name = p.label()

	if len(n.children) == 0 && n.name == "" {
		return nil, fmt.Errorf("%w: unnamed leaf at offset %d", ErrNewick, p.pos)
	}

	p.skipSpace()

	if p.consume(':') {
		length, err := p.number()
		if err != nil {
			return nil, err
		}

		if length < 0 {
			return nil, fmt.Errorf("%w: negative branch length %g", ErrNewick, length)
		}

		n.length = length
	}

	return n, nil
}

func (p *newickParser) label() string {
	p.skipSpace()

	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("(),:; \t\n\r", rune(p.src[p.pos])) {
		p.pos++
	}

	return p.src[start:p.pos]
}

func (p *newickParser) number() (float64, error) {
	raw := p.label()

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad branch length %q", ErrNewick, raw)
	}

	return v, nil
}

func (p *newickParser) consume(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++

		return true
	}

	return false
}

func (p *newickParser) skipSpace() {
	for p.pos < len(p.src) && strings.ContainsRune(" \t\n\r", rune(p.src[p.pos])) {
		p.pos++
	}
}

// Newick writes the tree with branch lengths in the form ParseNewick reads.
func (t *Tree) Newick() string {
	var sb strings.Builder

	t.writeNewick(&sb, t.root)
	sb.WriteByte(';')

	return sb.String()
}

func (t *Tree) writeNewick(sb *strings.Builder, id int) {
	if t.IsLeaf(id) {
		sb.WriteString(t.Name(id))
	} else {
		left, right := t.Children(id)

		sb.WriteByte('(')
		t.writeNewick(sb, left)
		sb.WriteByte(',')
		t.writeNewick(sb, right)
		sb.WriteByte(')')
	}

	if id != t.root {
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatFloat(t.BranchLength(id), 'g', -1, 64))
	}
}
