package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/tapeline/pkg/clock"
	"github.com/Sumatoshi-tech/tapeline/pkg/config"
	"github.com/Sumatoshi-tech/tapeline/pkg/likelihood"
	"github.com/Sumatoshi-tech/tapeline/pkg/observability"
	"github.com/Sumatoshi-tech/tapeline/pkg/parsimony"
	"github.com/Sumatoshi-tech/tapeline/pkg/report"
	"github.com/Sumatoshi-tech/tapeline/pkg/stats"
	"github.com/Sumatoshi-tech/tapeline/pkg/tree"
)

const (
	benchCmdShort      = "Run accept/reject chains that perturb the tree and re-evaluate incrementally"
	metricsReadTimeout = 5 * time.Second
	acceptanceAlpha    = 0.05
	benchReportName    = "bench"
)

// benchFlags override the bench section of the configuration when set.
type benchFlags struct {
	configPath   string
	metricsAddr  string
	reportDir    string
	reportFormat string
	chains       int
	iterations  int
	seed        int64
	parsimony   bool
}

// NewBenchCommand creates the bench subcommand.
func NewBenchCommand(verbosity *Verbosity) *cobra.Command {
	flags := &benchFlags{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: benchCmdShort,
		Long: benchCmdShort + `.

Each chain owns a copy of the tree and its own engine. Proposals rescale all
heights, slide one internal node, or exchange a node with its uncle; rejected
proposals are reverted with Store/Restore rather than recomputed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, flags, verbosity)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, configFlag, configFlagShort, "", configFlagUsage)
	cmd.Flags().IntVar(&flags.chains, "chains", 0, "independent chains run concurrently")
	cmd.Flags().IntVar(&flags.iterations, "iterations", 0, "proposals per chain")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "random seed")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&flags.parsimony, "parsimony", false, "score with the parsimony engine")
	cmd.Flags().StringVar(&flags.reportDir, "report-dir", "", "write a run report into this directory")
	cmd.Flags().StringVar(&flags.reportFormat, "report-format", "", "run report format: json or yaml")

	return cmd
}

func (f *benchFlags) apply(cmd *cobra.Command, b *config.BenchConfig) {
	if cmd.Flags().Changed("chains") {
		b.Chains = f.chains
	}

	if cmd.Flags().Changed("iterations") {
		b.Iterations = f.iterations
	}

	if cmd.Flags().Changed("seed") {
		b.Seed = f.seed
	}

	if cmd.Flags().Changed("metrics-addr") {
		b.MetricsAddr = f.metricsAddr
	}

	if cmd.Flags().Changed("parsimony") {
		b.Parsimony = f.parsimony
	}

	if cmd.Flags().Changed("report-dir") {
		b.ReportDir = f.reportDir
	}

	if cmd.Flags().Changed("report-format") {
		b.ReportFormat = f.reportFormat
	}
}

// ErrInvalidBenchFlag is returned for non-positive chain or iteration overrides.
var ErrInvalidBenchFlag = errors.New("chains and iterations must be positive")

func runBench(cmd *cobra.Command, flags *benchFlags, verbosity *Verbosity) error {
	runID := uuid.NewString()

	s, err := openSession(flags.configPath, observability.ModeBench, runID, verbosity)
	if err != nil {
		return err
	}
	defer s.close()

	bench := s.cfg.Bench
	bench.ReportDir = s.cfg.BenchReportDir()
	flags.apply(cmd, &bench)

	if bench.Chains <= 0 || bench.Iterations <= 0 {
		return fmt.Errorf("%w: chains %d, iterations %d", ErrInvalidBenchFlag, bench.Chains, bench.Iterations)
	}

	codec, err := report.CodecFor(bench.ReportFormat)
	if err != nil {
		return err
	}

	startedAt := time.Now().UTC()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if bench.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, bench.Timeout)
		defer cancel()
	}

	meter := s.providers.Meter

	if bench.MetricsAddr != "" {
		promMeter, stop, serveErr := serveMetrics(bench.MetricsAddr)
		if serveErr != nil {
			return serveErr
		}
		defer stop()

		meter = promMeter

		s.logger.Info("serving metrics", "addr", bench.MetricsAddr)
	}

	metrics, err := observability.NewEngineMetrics(meter)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}

	sites, err := s.cfg.BuildSiteModel()
	if err != nil {
		return fmt.Errorf("build site model: %w", err)
	}

	results := make([]chainResult, bench.Chains)

	g, gctx := errgroup.WithContext(ctx)

	for idx := range bench.Chains {
		g.Go(func() error {
			c := &chain{
				index:   idx,
				session: s,
				bench:   bench,
				sites:   sites,
				metrics: metrics,
			}

			res, chainErr := c.run(gctx)
			if chainErr != nil {
				return fmt.Errorf("chain %d: %w", idx, chainErr)
			}

			results[idx] = res

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return err
	}

	renderBench(cmd, runID, bench, results)

	if bench.ReportDir == "" {
		return nil
	}

	path, err := report.Save(bench.ReportDir, benchReportName, codec, benchReport(runID, startedAt, bench, results))
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	s.logger.Info("report written", "path", path)

	return nil
}

func benchReport(runID string, startedAt time.Time, bench config.BenchConfig, results []chainResult) report.Bench {
	out := report.Bench{
		RunID:     runID,
		Engine:    engineLabel(bench),
		Seed:      bench.Seed,
		StartedAt: startedAt,
		Chains:    make([]report.Chain, len(results)),
	}

	for idx, r := range results {
		final, best := r.final, r.best
		if bench.Parsimony {
			final, best = -final, -best
		}

		out.Chains[idx] = report.Chain{
			Index:       r.index,
			Proposals:   r.proposals,
			Accepted:    r.accepted,
			Acceptance:  r.acceptance,
			FinalScore:  report.Finite(final),
			BestScore:   report.Finite(best),
			MeanEval:    r.evaluations.Mean.String(),
			P95Eval:     r.evaluations.P95.String(),
			ElapsedSecs: r.elapsed.Seconds(),
			FinalTree:   r.finalTree,
		}
	}

	return out
}

func engineLabel(bench config.BenchConfig) string {
	if bench.Parsimony {
		return "parsimony"
	}

	return "likelihood"
}

// serveMetrics starts a Prometheus scrape endpoint and returns the meter
// feeding it and a function that stops the server.
func serveMetrics(addr string) (meter metric.Meter, stop func(), err error) {
	promMeter, handler, err := observability.PrometheusMeter()
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadTimeout}

	go func() {
		_ = srv.Serve(ln)
	}()

	return promMeter, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsReadTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

// scorer is the part of an engine the accept/reject loop drives. Higher scores are better.
type scorer interface {
	Evaluate(ctx context.Context) float64
	Store()
	Restore()
}

// negatedCost turns a parsimony cost into a score to maximize.
type negatedCost struct {
	*parsimony.Engine
}

func (n negatedCost) Evaluate(ctx context.Context) float64 {
	return -n.Engine.Evaluate(ctx)
}

type chainResult struct {
	evaluations stats.Summary
	elapsed     time.Duration
	index       int
	proposals   int
	accepted    int
	acceptance  float64
	final       float64
	best        float64
	finalTree   string
}

type chain struct {
	session *session
	sites   *clock.SiteModel
	metrics *observability.EngineMetrics
	bench   config.BenchConfig
	index   int
}

func (c *chain) newScorer(tr *tree.Tree, rates clock.BranchRates) (scorer, error) {
	s := c.session

	if c.bench.Parsimony {
		eng, err := parsimony.New(tr, s.aln, s.model,
			parsimony.WithLogger(s.logger),
			parsimony.WithMetrics(c.metrics),
			parsimony.WithTracer(s.providers.Tracer),
		)
		if err != nil {
			return nil, err
		}

		return negatedCost{eng}, nil
	}

	opts := append(s.cfg.LikelihoodOptions(c.sites, rates),
		likelihood.WithLogger(s.logger),
		likelihood.WithMetrics(c.metrics),
		likelihood.WithTracer(s.providers.Tracer),
	)

	return likelihood.New(tr, s.aln, s.model, opts...)
}

func (c *chain) run(ctx context.Context) (chainResult, error) {
	tr := c.session.tree.Copy()

	rates, err := c.session.cfg.BranchRates(tr.NodeCount())
	if err != nil {
		return chainResult{}, fmt.Errorf("build clock: %w", err)
	}

	eng, err := c.newScorer(tr, rates)
	if err != nil {
		return chainResult{}, err
	}

	//nolint:gosec // Reproducible benchmark randomness, not security sensitive.
	rng := rand.New(rand.NewPCG(uint64(c.bench.Seed), uint64(c.index)))
	moves := &proposer{rng: rng, tree: tr, window: c.bench.ScaleWindow}

	// Parsimony ignores branch lengths, so rate moves would only be noise.
	if perBranch, ok := rates.(*clock.PerBranch); ok && !c.bench.Parsimony {
		moves.rates = perBranch
	}
	acceptance := stats.NewAcceptance(acceptanceAlpha)

	start := time.Now()
	current := eng.Evaluate(ctx)
	tr.SetAllClean()

	res := chainResult{index: c.index, best: current}
	durations := make([]time.Duration, 0, c.bench.Iterations)

	for range c.bench.Iterations {
		if ctx.Err() != nil {
			break
		}

		moves.store()
		eng.Store()

		accepted := false

		if moves.propose() {
			evalStart := time.Now()
			proposed := eng.Evaluate(ctx)
			durations = append(durations, time.Since(evalStart))

			accepted = metropolis(rng, current, proposed)
			if accepted {
				current = proposed
				res.best = max(res.best, current)
			}
		}

		if !accepted {
			moves.restore()
			eng.Restore()
		}

		tr.SetAllClean()

		acceptance.Record(accepted)
		c.metrics.RecordProposal(ctx, accepted)
	}

	res.elapsed = time.Since(start)
	res.final = current
	res.proposals = acceptance.Proposals()
	res.accepted = acceptance.Accepted()
	res.acceptance = acceptance.Recent()
	res.evaluations = stats.Summarize(durations)
	res.finalTree = tr.Newick()

	c.session.logger.DebugContext(ctx, "chain finished",
		"chain", c.index, "proposals", res.proposals, "accepted", res.accepted, "final", res.final)

	return res, nil
}

// metropolis accepts improvements outright and worse proposals with
// probability exp(proposed - current). Impossible states are only accepted
// while the chain is itself in an impossible state.
func metropolis(rng *rand.Rand, current, proposed float64) bool {
	switch {
	case math.IsInf(proposed, -1) || math.IsNaN(proposed):
		return math.IsInf(current, -1)
	case math.IsInf(current, -1), proposed >= current:
		return true
	default:
		return math.Log(rng.Float64()) < proposed-current
	}
}

// proposer perturbs a tree, and per-branch rates when set, in place. propose
// reports false, leaving both untouched, when the drawn move is not valid for
// the current tree.
type proposer struct {
	rng    *rand.Rand
	tree   *tree.Tree
	rates  *clock.PerBranch
	window float64
}

func (p *proposer) propose() bool {
	moves := 3
	if p.rates != nil {
		moves++
	}

	switch p.rng.IntN(moves) {
	case 0:
		return p.scale()
	case 1:
		return p.slide()
	case 2:
		return p.exchange()
	default:
		return p.rate()
	}
}

func (p *proposer) store() {
	p.tree.Store()

	if p.rates != nil {
		p.rates.Store()
	}
}

func (p *proposer) restore() {
	p.tree.Restore()

	if p.rates != nil {
		p.rates.Restore()
	}
}

// rate multiplies one branch rate by a factor drawn like scale's.
func (p *proposer) rate() bool {
	id := p.rng.IntN(p.rates.Len())
	factor := math.Exp(p.window * (2*p.rng.Float64() - 1))

	return p.rates.Set(id, p.rates.Rate(id)*factor) == nil
}

func (p *proposer) scale() bool {
	factor := math.Exp(p.window * (2*p.rng.Float64() - 1))

	return p.tree.ScaleHeights(factor) == nil
}

func (p *proposer) slide() bool {
	tr := p.tree

	candidates := tr.NodeCount() - tr.LeafCount() - 1
	if candidates <= 0 {
		return false
	}

	id := tr.LeafCount() + p.rng.IntN(candidates+1)
	if id == tr.Root() {
		return false
	}

	left, right := tr.Children(id)
	lo := max(tr.Height(left), tr.Height(right))
	hi := tr.Height(tr.Parent(id))

	return tr.SetHeight(id, lo+p.rng.Float64()*(hi-lo)) == nil
}

func (p *proposer) exchange() bool {
	tr := p.tree

	id := p.rng.IntN(tr.NodeCount())
	if id == tr.Root() {
		return false
	}

	parent := tr.Parent(id)
	if parent == tr.Root() {
		return false
	}

	grandparent := tr.Parent(parent)

	uncle, other := tr.Children(grandparent)
	if uncle == parent {
		uncle = other
	}

	return tr.Exchange(id, uncle) == nil
}

func renderBench(cmd *cobra.Command, runID string, bench config.BenchConfig, results []chainResult) {
	out := cmd.OutOrStdout()

	engine, label := engineLabel(bench), "log-likelihood"
	if bench.Parsimony {
		label = "cost"
	}

	fmt.Fprintf(out, "run %s  engine %s  chains %d\n", runID, engine, len(results))

	tbl := newTable(out)
	tbl.AppendHeader([]any{"Chain", "Proposals", "Accepted", "Recent acceptance", "Final " + label, "Best " + label, "Mean eval", "P95 eval", "Throughput"})

	for _, r := range results {
		final, best := r.final, r.best
		if bench.Parsimony {
			final, best = -final, -best
		}

		throughput := 0.0
		if r.elapsed > 0 {
			throughput = float64(r.evaluations.Count) / r.elapsed.Seconds()
		}

		tbl.AppendRow([]any{
			r.index,
			humanize.Comma(int64(r.proposals)),
			humanize.Comma(int64(r.accepted)),
			fmt.Sprintf("%.1f%%", r.acceptance*100),
			formatScore(final),
			formatScore(best),
			r.evaluations.Mean,
			r.evaluations.P95,
			humanize.SIWithDigits(throughput, 1, "eval/s"),
		})
	}

	tbl.Render()

	for _, r := range results {
		final := r.final
		if bench.Parsimony {
			final = -final
		}

		warnInfinite(out, fmt.Sprintf("chain %d final %s", r.index, label), final, "no valid state reached")
	}
}
