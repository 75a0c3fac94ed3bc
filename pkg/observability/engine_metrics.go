package observability

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricEvaluationsTotal  = "tapeline.evaluations.total"
	metricEvaluationSeconds = "tapeline.evaluation.duration.seconds"
	metricRecomputedTotal   = "tapeline.nodes.recomputed.total"
	metricRejectedTotal     = "tapeline.evaluations.rejected.total"
	metricScore             = "tapeline.score"
	metricProposalsTotal    = "tapeline.proposals.total"

	attrEngine  = "engine"
	attrKind    = "kind"
	attrReason  = "reason"
	attrOutcome = "outcome"

	kindPartials = "partials"
	kindSets     = "sets"

	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
)

// evaluationBucketBoundaries covers 1µs to 1s: a cached re-evaluation touches
// a handful of nodes while a full rebuild of a large tree takes milliseconds.
var evaluationBucketBoundaries = []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2, 0.1, 1}

// EngineMetrics holds OTel instruments for scoring-engine evaluations.
type EngineMetrics struct {
	evaluations metric.Int64Counter
	duration    metric.Float64Histogram
	recomputed  metric.Int64Counter
	rejected    metric.Int64Counter
	score       metric.Float64Gauge
	proposals   metric.Int64Counter
}

// EvaluationStats describes one call to an engine's Evaluate.
type EvaluationStats struct {
	// Engine is "likelihood" or "parsimony".
	Engine string

	Duration time.Duration

	// RecomputedPartials counts nodes whose values were recomputed.
	RecomputedPartials int

	// RecomputedSets counts nodes whose ancestral state sets were rebuilt.
	RecomputedSets int

	// RejectReason is non-empty when the evaluation returned -Inf.
	RejectReason string

	Score float64
}

// NewEngineMetrics creates engine metric instruments from the given meter.
func NewEngineMetrics(mt metric.Meter) (*EngineMetrics, error) {
	b := newMetricBuilder(mt)

	em := &EngineMetrics{
		evaluations: b.counter(metricEvaluationsTotal, "Total engine evaluations", "{evaluation}"),
		duration:    b.histogram(metricEvaluationSeconds, "Evaluation duration in seconds", "s", evaluationBucketBoundaries...),
		recomputed:  b.counter(metricRecomputedTotal, "Nodes recomputed during evaluation", "{node}"),
		rejected:    b.counter(metricRejectedTotal, "Evaluations that scored -Inf", "{evaluation}"),
		score:       b.gauge(metricScore, "Most recent engine score", "1"),
		proposals:   b.counter(metricProposalsTotal, "Accept/reject proposals by outcome", "{proposal}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return em, nil
}

// RecordEvaluation records a completed evaluation.
// Safe to call on a nil receiver (no-op).
func (em *EngineMetrics) RecordEvaluation(ctx context.Context, stats EvaluationStats) {
	if em == nil {
		return
	}

	engine := metric.WithAttributes(attribute.String(attrEngine, stats.Engine))

	em.evaluations.Add(ctx, 1, engine)
	em.duration.Record(ctx, stats.Duration.Seconds(), engine)

	em.recomputed.Add(ctx, int64(stats.RecomputedPartials), metric.WithAttributes(
		attribute.String(attrEngine, stats.Engine),
		attribute.String(attrKind, kindPartials),
	))
	em.recomputed.Add(ctx, int64(stats.RecomputedSets), metric.WithAttributes(
		attribute.String(attrEngine, stats.Engine),
		attribute.String(attrKind, kindSets),
	))

	if stats.RejectReason != "" {
		em.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrEngine, stats.Engine),
			attribute.String(attrReason, stats.RejectReason),
		))
	}

	if !math.IsInf(stats.Score, 0) && !math.IsNaN(stats.Score) {
		em.score.Record(ctx, stats.Score, engine)
	}
}

// RecordProposal records the outcome of one accept/reject proposal.
// Safe to call on a nil receiver (no-op).
func (em *EngineMetrics) RecordProposal(ctx context.Context, accepted bool) {
	if em == nil {
		return
	}

	outcome := outcomeRejected
	if accepted {
		outcome = outcomeAccepted
	}

	em.proposals.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}
