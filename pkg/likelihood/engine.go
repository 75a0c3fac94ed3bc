// Package likelihood computes the probability of observed editing-tape
// barcodes at the tips of a time tree.
//
// The engine runs a postorder dynamic program over per-node ancestral state
// sets. Every internal node owns two cache slots; a recomputation always writes
// into the slot not protected by the last Store, so Restore is a pointer swap
// that never recomputes anything.
package likelihood

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
	"gonum.org/v1/gonum/floats"

	"github.com/Sumatoshi-tech/tapeline/pkg/alignment"
	"github.com/Sumatoshi-tech/tapeline/pkg/ancestry"
	"github.com/Sumatoshi-tech/tapeline/pkg/clock"
	"github.com/Sumatoshi-tech/tapeline/pkg/editmodel"
	"github.com/Sumatoshi-tech/tapeline/pkg/observability"
	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
	"github.com/Sumatoshi-tech/tapeline/pkg/tree"
)

// DefaultScalingThreshold is the partial-vector maximum below which a node's
// partials are rescaled.
const DefaultScalingThreshold = 1e-100

const (
	engineName = "likelihood"
	tracerName = "tapeline/likelihood"

	// RejectOrigin marks an evaluation where the root is not younger than the origin.
	RejectOrigin = "origin"
	// RejectInconsistent marks an evaluation with zero data probability.
	RejectInconsistent = "inconsistent"
)

// Sentinel construction errors.
var (
	ErrNilCollaborator    = errors.New("tree, alignment and model are required")
	ErrTooFewNodes        = errors.New("tree must have more than two nodes")
	ErrNegativeOrigin     = errors.New("origin time must not be negative")
	ErrTapeLengthMismatch = errors.New("tape length mismatch")
	ErrMissingBarcode     = errors.New("leaf has no barcode")
	ErrSymbolOutOfRange   = errors.New("barcode symbol outside the model alphabet")
	ErrInvalidThreshold   = errors.New("scaling threshold must be in (0, 1]")
)

// slot is one buffer of a node's cache.
type slot struct {
	set      []tape.Tape
	partials [][]float64 // [category][state index]
	logScale []float64   // [category]

	// alive is the probability of the subtree's data given the node holds some
	// unlost tape, per category. Only a node whose descendants are all missing
	// has one; it does not depend on which tape survived.
	alive []float64
}

// Engine evaluates the tree likelihood. It is not safe for concurrent use.
type Engine struct {
	view    tree.View
	model   *editmodel.Model
	rates   clock.BranchRates
	logger  *slog.Logger
	metrics *observability.EngineMetrics
	tracer  trace.Tracer

	categoryRates []float64

	leafTapes []tape.Tape
	leafSets  [][]tape.Tape
	slots     [][2]slot

	current       []int
	stored        []int
	distances     []float64
	storedDistant []float64

	origin    float64
	threshold float64
	hasOrigin bool
	scaling   bool

	siteModel   *clock.SiteModel
	initialized bool
	forceFilthy bool

	recomputedPartials int
	recomputedSets     int
	inconsistent       bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithOrigin sets the start-of-recording time; the root is marginalized
// against an all-unedited tape at the origin.
func WithOrigin(origin float64) Option {
	return func(e *Engine) {
		e.origin = origin
		e.hasOrigin = true
	}
}

// WithBranchRates sets the clock. Defaults to a strict clock of rate one.
func WithBranchRates(rates clock.BranchRates) Option {
	return func(e *Engine) {
		e.rates = rates
	}
}

// WithSiteModel sets rate categories. Only used when the model has per-category rates.
func WithSiteModel(sm *clock.SiteModel) Option {
	return func(e *Engine) {
		e.siteModel = sm
	}
}

// WithScaling toggles partial rescaling. Enabled by default.
func WithScaling(enabled bool) Option {
	return func(e *Engine) {
		e.scaling = enabled
	}
}

// WithScalingThreshold sets the rescaling threshold.
func WithScalingThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.threshold = threshold
	}
}

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

// New builds an engine. Leaf ancestral sets are computed here, once.
func New(view tree.View, barcodes alignment.Source, model *editmodel.Model, opts ...Option) (*Engine, error) {
	if view == nil || barcodes == nil || model == nil {
		return nil, ErrNilCollaborator
	}

	e := &Engine{
		view:      view,
		model:     model,
		rates:     clock.Strict(1),
		threshold: DefaultScalingThreshold,
		scaling:   true,
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

	err := e.validate(barcodes)
	if err != nil {
		return nil, err
	}

	e.categoryRates = []float64{1}
	if model.PerCategoryRate() && e.siteModel != nil {
		e.categoryRates = e.siteModel.Rates()
	}

	e.allocate()

	err = e.loadLeaves(barcodes)
	if err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) validate(barcodes alignment.Source) error {
	if n := e.view.NodeCount(); n <= 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewNodes, n)
	}

	if e.hasOrigin && (e.origin < 0 || math.IsNaN(e.origin)) {
		return fmt.Errorf("%w: %g", ErrNegativeOrigin, e.origin)
	}

	if barcodes.TapeLength() != e.model.TapeLength() {
		return fmt.Errorf("%w: alignment %d, model %d", ErrTapeLengthMismatch, barcodes.TapeLength(), e.model.TapeLength())
	}

	if e.scaling && (e.threshold <= 0 || e.threshold > 1) {
		return fmt.Errorf("%w: %g", ErrInvalidThreshold, e.threshold)
	}

	if counted, ok := e.rates.(interface{ Len() int }); ok && counted.Len() != e.view.NodeCount() {
		return fmt.Errorf("%w: %d rates, %d nodes", clock.ErrRateCountMismatch, counted.Len(), e.view.NodeCount())
	}

	return nil
}

func (e *Engine) allocate() {
	n := e.view.NodeCount()
	categories := len(e.categoryRates)

	e.slots = make([][2]slot, n)
	e.current = make([]int, n)
	e.stored = make([]int, n)
	e.distances = make([]float64, n)
	e.storedDistant = make([]float64, n)
	e.leafTapes = make([]tape.Tape, e.view.LeafCount())
	e.leafSets = make([][]tape.Tape, e.view.LeafCount())

	for id := range e.slots {
		for s := range e.slots[id] {
			e.slots[id][s].partials = make([][]float64, categories)
			e.slots[id][s].logScale = make([]float64, categories)
			e.slots[id][s].alive = make([]float64, categories)
		}
	}
}

func (e *Engine) loadLeaves(barcodes alignment.Source) error {
	for id := range e.view.LeafCount() {
		name := e.view.Name(id)

		observed, ok := barcodes.Tape(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingBarcode, name)
		}

		if len(observed) != e.model.TapeLength() {
			return fmt.Errorf("%w: leaf %q has %d positions", ErrTapeLengthMismatch, name, len(observed))
		}

		for _, s := range observed {
			if s > e.model.Alphabet() {
				return fmt.Errorf("%w: leaf %q symbol %d, alphabet %d", ErrSymbolOutOfRange, name, s, e.model.Alphabet())
			}
		}

		e.leafTapes[id] = observed
		e.leafSets[id] = ancestry.PossibleAncestors(observed)
	}

	return nil
}

// CategoryCount returns the number of rate categories in use.
func (e *Engine) CategoryCount() int { return len(e.categoryRates) }

// Evaluate returns the log-likelihood of the barcodes given the current tree
// and parameters. Only nodes whose subtree changed since the last evaluation
// are recomputed. Returns -Inf when the root is not younger than the origin
// or the data is impossible under the model.
func (e *Engine) Evaluate(ctx context.Context) float64 {
	ctx, span := e.tracer.Start(ctx, "likelihood.evaluate")
	defer span.End()

	start := time.Now()

	e.recomputedPartials, e.recomputedSets, e.inconsistent = 0, 0, false

	root := e.view.Root()
	e.traverse(root)
	e.initialized = true
	e.forceFilthy = false

	score, reason := e.rootScore(ctx, root)

	if e.inconsistent {
		e.logger.WarnContext(ctx, "empty ancestral state intersection",
			"engine", engineName, "score", score)
	}

	span.SetAttributes(
		attribute.Float64("score", score),
		attribute.Int("recomputed.partials", e.recomputedPartials),
		attribute.Int("recomputed.sets", e.recomputedSets),
	)

	e.metrics.RecordEvaluation(ctx, observability.EvaluationStats{
		Engine:             engineName,
		Duration:           time.Since(start),
		RecomputedPartials: e.recomputedPartials,
		RecomputedSets:     e.recomputedSets,
		RejectReason:       reason,
		Score:              score,
	})

	return score
}

// traverse walks the subtree below id in postorder, recomputing stale nodes,
// and returns the node's effective dirty state.
func (e *Engine) traverse(id int) tree.DirtyState {
	self := e.view.Dirty(id)
	if e.forceFilthy || !e.initialized {
		self = tree.Filthy
	}

	if d := e.view.BranchLength(id) * e.rates.Rate(id); d != e.distances[id] {
		e.distances[id] = d
		self = max(self, tree.Dirty)
	}

	if e.view.IsLeaf(id) {
		return self
	}

	left, right := e.view.Children(id)
	state := tree.Combine(e.traverse(left), e.traverse(right), self)

	if state != tree.Clean {
		e.recompute(id, left, right, state == tree.Filthy)
	}

	return state
}

func (e *Engine) recompute(id, left, right int, rebuildSet bool) {
	src := e.current[id]
	dstIdx := 1 - e.stored[id]
	dst := &e.slots[id][dstIdx]

	if rebuildSet {
		dst.set = ancestry.Intersect(e.setOf(left), e.setOf(right), ancestry.FallbackNone, e.model.TapeLength())
		e.recomputedSets++
	} else if dstIdx != src {
		// Sets are immutable once built, so sharing is safe.
		dst.set = e.slots[id][src].set
	}

	e.current[id] = dstIdx

	if len(dst.set) == 0 {
		e.inconsistent = true
	}

	survivable := e.model.HasMissingness() && ancestry.IsMissingSet(dst.set)
	unedited := tape.Unedited(e.model.TapeLength())

	for c := range e.categoryRates {
		partials := resize(dst.partials[c], len(dst.set))

		for i, s := range dst.set {
			partials[i] = e.childTerm(left, s, c) * e.childTerm(right, s, c)
		}

		dst.alive[c] = 0
		if survivable {
			dst.alive[c] = e.childTerm(left, unedited, c) * e.childTerm(right, unedited, c)
		}

		dst.partials[c] = partials
		dst.logScale[c] = e.rescale(partials, &dst.alive[c])
	}

	e.recomputedPartials++
}

func (e *Engine) setOf(id int) []tape.Tape {
	if e.view.IsLeaf(id) {
		return e.leafSets[id]
	}

	return e.slots[id][e.current[id]].set
}

// childTerm is the probability of the data below child given its parent holds s.
func (e *Engine) childTerm(child int, s tape.Tape, category int) float64 {
	d := e.distances[child] * e.categoryRates[category]

	if e.view.IsLeaf(child) {
		return e.model.TipProbability(s, e.leafTapes[child], d)
	}

	sl := &e.slots[child][e.current[child]]
	partials := sl.partials[category]

	var sum float64

	for i, t := range sl.set {
		if partials[i] == 0 {
			continue
		}

		sum += e.model.TransitionProbability(s, t, d) * partials[i]
	}

	// An all-missing subtree may also hang below a surviving tape whose tips
	// all dropped out. Transitions from s into unlost tapes sum to Survival(d).
	if sl.alive[category] != 0 && !s.IsMissing() {
		sum += e.model.Survival(d) * sl.alive[category]
	}

	return sum
}

// rescale divides p and alive by their common maximum when that maximum is
// below the threshold and returns the log of the factor removed.
func (e *Engine) rescale(p []float64, alive *float64) float64 {
	if !e.scaling || len(p) == 0 {
		return 0
	}

	m := max(floats.Max(p), *alive)
	if m == 0 || m >= e.threshold {
		return 0
	}

	floats.Scale(1/m, p)
	*alive /= m

	return math.Log(m)
}

func (e *Engine) rootScore(ctx context.Context, root int) (float64, string) {
	rootHeight := e.view.Height(root)

	if e.hasOrigin && rootHeight >= e.origin {
		e.logger.DebugContext(ctx, "root not younger than origin",
			"root_height", rootHeight, "origin", e.origin)

		return math.Inf(-1), RejectOrigin
	}

	sl := &e.slots[root][e.current[root]]
	if len(sl.set) == 0 {
		return math.Inf(-1), RejectInconsistent
	}

	unedited := tape.Unedited(e.model.TapeLength())
	logs := make([]float64, len(e.categoryRates))

	for c, rate := range e.categoryRates {
		var total float64

		switch {
		case e.hasOrigin:
			d := (e.origin - rootHeight) * e.rates.Rate(root) * rate
			for i, s := range sl.set {
				total += e.model.TransitionProbability(unedited, s, d) * sl.partials[c][i]
			}

			total += e.model.Survival(d) * sl.alive[c]
		case sl.alive[c] != 0:
			// Without an origin branch the root tape cannot have been lost.
			total = sl.alive[c]
		default:
			total = floats.Sum(sl.partials[c])
		}

		logs[c] = math.Log(total) + e.LogScale(c)
	}

	score := floats.LogSumExp(logs) - math.Log(float64(len(logs)))
	if math.IsInf(score, -1) {
		return score, RejectInconsistent
	}

	return score, ""
}

// Store snapshots the active cache slots and branch distances.
func (e *Engine) Store() {
	copy(e.stored, e.current)
	copy(e.storedDistant, e.distances)
}

// Restore reverts to the last Store by swapping index arrays. It runs in
// constant time regardless of tree size.
func (e *Engine) Restore() {
	e.current, e.stored = e.stored, e.current
	e.distances, e.storedDistant = e.storedDistant, e.distances
}

// MarkFilthyFromRoot forces every ancestral state set to be rebuilt on the
// next evaluation.
func (e *Engine) MarkFilthyFromRoot() {
	e.forceFilthy = true
}

// AncestralSet returns a copy of the node's current ancestral state set.
func (e *Engine) AncestralSet(id int) []tape.Tape {
	var set []tape.Tape
	if e.view.IsLeaf(id) {
		set = e.leafSets[id]
	} else {
		set = e.slots[id][e.current[id]].set
	}

	out := make([]tape.Tape, len(set))
	for i, t := range set {
		out[i] = t.Clone()
	}

	return out
}

// Partials returns a copy of the node's current (scaled) partial vector for a
// category, aligned with AncestralSet. A leaf's vector is the indicator of its
// observed state.
func (e *Engine) Partials(id, category int) []float64 {
	if e.view.IsLeaf(id) {
		out := make([]float64, len(e.leafSets[id]))
		out[0] = 1

		return out
	}

	return append([]float64(nil), e.slots[id][e.current[id]].partials[category]...)
}

// LogScale returns the total log scale correction of a category.
func (e *Engine) LogScale(category int) float64 {
	var total float64

	for id := e.view.LeafCount(); id < e.view.NodeCount(); id++ {
		total += e.slots[id][e.current[id]].logScale[category]
	}

	return total
}

func resize(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}

	return buf[:n]
}
