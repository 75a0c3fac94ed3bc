// Package parsimony scores a tree by the number of edits its branches need to
// explain the observed barcodes.
//
// Each internal node keeps a single reconstructed state: the most-edited tape
// shared by both children's ancestral sets, or the all-unedited tape when they
// share nothing. This is a fast heuristic, not a guaranteed minimum.
package parsimony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/tapeline/pkg/alignment"
	"github.com/Sumatoshi-tech/tapeline/pkg/ancestry"
	"github.com/Sumatoshi-tech/tapeline/pkg/editmodel"
	"github.com/Sumatoshi-tech/tapeline/pkg/observability"
	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
	"github.com/Sumatoshi-tech/tapeline/pkg/tree"
)

const (
	engineName = "parsimony"
	tracerName = "tapeline/parsimony"

	// RejectInconsistent marks an evaluation where a branch cannot be explained
	// by insertions alone.
	RejectInconsistent = "inconsistent"
)

// Sentinel construction errors.
var (
	ErrNilCollaborator    = errors.New("tree, alignment and model are required")
	ErrTooFewNodes        = errors.New("tree must have more than two nodes")
	ErrTapeLengthMismatch = errors.New("tape length mismatch")
	ErrMissingBarcode     = errors.New("leaf has no barcode")
)

type slot struct {
	state tape.Tape
	set   []tape.Tape
	cost  int // edits on the two child branches plus both child subtrees
	ok    bool
}

// Engine computes parsimony costs. It is not safe for concurrent use.
type Engine struct {
	view    tree.View
	model   *editmodel.Model
	logger  *slog.Logger
	metrics *observability.EngineMetrics
	tracer  trace.Tracer

	leafTapes []tape.Tape
	leafSets  [][]tape.Tape
	slots     [][2]slot
	current   []int
	stored    []int

	initialized bool
	forceFilthy bool
	recomputed  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics records evaluation metrics.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer used for per-evaluation spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New builds a parsimony engine over the given tree and barcodes.
func New(view tree.View, barcodes alignment.Source, model *editmodel.Model, opts ...Option) (*Engine, error) {
	if view == nil || barcodes == nil || model == nil {
		return nil, ErrNilCollaborator
	}

	if n := view.NodeCount(); n <= 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewNodes, n)
	}

	if barcodes.TapeLength() != model.TapeLength() {
		return nil, fmt.Errorf("%w: alignment %d, model %d", ErrTapeLengthMismatch, barcodes.TapeLength(), model.TapeLength())
	}

	e := &Engine{
		view:      view,
		model:     model,
		leafTapes: make([]tape.Tape, view.LeafCount()),
		leafSets:  make([][]tape.Tape, view.LeafCount()),
		slots:     make([][2]slot, view.NodeCount()),
		current:   make([]int, view.NodeCount()),
		stored:    make([]int, view.NodeCount()),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	for id := range view.LeafCount() {
		observed, ok := barcodes.Tape(view.Name(id))
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingBarcode, view.Name(id))
		}

		e.leafTapes[id] = observed
		e.leafSets[id] = ancestry.PossibleAncestors(observed)
	}

	return e, nil
}

// Evaluate returns the total number of edits needed along every branch,
// including the branch from an all-unedited origin to the root. Only subtrees
// whose topology changed are recomputed. Returns +Inf if some branch cannot be
// explained by insertions.
func (e *Engine) Evaluate(ctx context.Context) float64 {
	ctx, span := e.tracer.Start(ctx, "parsimony.evaluate")
	defer span.End()

	start := time.Now()
	e.recomputed = 0

	root := e.view.Root()
	e.traverse(root)
	e.initialized = true
	e.forceFilthy = false

	sl := &e.slots[root][e.current[root]]
	rootward, ok := e.model.Cost(tape.Unedited(e.model.TapeLength()), sl.state)

	score := float64(sl.cost + rootward)
	reason := ""

	if !ok || !sl.ok {
		score = math.Inf(1)
		reason = RejectInconsistent

		e.logger.WarnContext(ctx, "branch not explained by insertions", "engine", engineName)
	}

	span.SetAttributes(
		attribute.Float64("score", score),
		attribute.Int("recomputed.sets", e.recomputed),
	)

	e.metrics.RecordEvaluation(ctx, observability.EvaluationStats{
		Engine:             engineName,
		Duration:           time.Since(start),
		RecomputedPartials: e.recomputed,
		RecomputedSets:     e.recomputed,
		RejectReason:       reason,
		Score:              score,
	})

	return score
}

func (e *Engine) traverse(id int) tree.DirtyState {
	self := e.view.Dirty(id)
	if e.forceFilthy || !e.initialized {
		self = tree.Filthy
	}

	if e.view.IsLeaf(id) {
		return self
	}

	left, right := e.view.Children(id)
	state := tree.Combine(e.traverse(left), e.traverse(right), self)

	// Branch lengths do not enter the cost, so only structural changes count.
	if state == tree.Filthy {
		e.recompute(id, left, right)
	}

	return state
}

func (e *Engine) recompute(id, left, right int) {
	dstIdx := 1 - e.stored[id]
	dst := &e.slots[id][dstIdx]

	shared := ancestry.Intersect(e.setOf(left), e.setOf(right), ancestry.FallbackUnedited, e.model.TapeLength())
	dst.state, _ = ancestry.Longest(shared)
	dst.set = ancestry.PossibleAncestors(dst.state)
	dst.cost, dst.ok = 0, true

	for _, child := range [2]int{left, right} {
		cost, ok := e.model.Cost(dst.state, e.stateOf(child))
		if !ok {
			dst.ok = false
		}

		dst.cost += cost

		if !e.view.IsLeaf(child) {
			sub := &e.slots[child][e.current[child]]
			dst.cost += sub.cost
			dst.ok = dst.ok && sub.ok
		}
	}

	e.current[id] = dstIdx
	e.recomputed++
}

func (e *Engine) setOf(id int) []tape.Tape {
	if e.view.IsLeaf(id) {
		return e.leafSets[id]
	}

	return e.slots[id][e.current[id]].set
}

func (e *Engine) stateOf(id int) tape.Tape {
	if e.view.IsLeaf(id) {
		return e.leafTapes[id]
	}

	return e.slots[id][e.current[id]].state
}

// Store snapshots the active cache slots.
func (e *Engine) Store() {
	copy(e.stored, e.current)
}

// Restore reverts to the last Store in constant time.
func (e *Engine) Restore() {
	e.current, e.stored = e.stored, e.current
}

// MarkFilthyFromRoot forces every node to be reconstructed on the next evaluation.
func (e *Engine) MarkFilthyFromRoot() {
	e.forceFilthy = true
}

// State returns a copy of the node's reconstructed state; the observed barcode for a leaf.
func (e *Engine) State(id int) tape.Tape {
	return e.stateOf(id).Clone()
}

// AncestralSet returns a copy of the node's ancestral state set.
func (e *Engine) AncestralSet(id int) []tape.Tape {
	set := e.setOf(id)

	out := make([]tape.Tape, len(set))
	for i, t := range set {
		out[i] = t.Clone()
	}

	return out
}
