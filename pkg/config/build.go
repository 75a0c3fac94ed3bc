package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/tapeline/pkg/alignment"
	"github.com/Sumatoshi-tech/tapeline/pkg/clock"
	"github.com/Sumatoshi-tech/tapeline/pkg/editmodel"
	"github.com/Sumatoshi-tech/tapeline/pkg/likelihood"
	"github.com/Sumatoshi-tech/tapeline/pkg/observability"
	"github.com/Sumatoshi-tech/tapeline/pkg/tree"
)

// LoadTree parses the configured Newick tree.
func (c *Config) LoadTree() (*tree.Tree, error) {
	if c.Tree.Newick != "" {
		return tree.ParseNewick(c.Tree.Newick)
	}

	if c.Tree.File == "" {
		return nil, ErrNoTree
	}

	data, err := os.ReadFile(c.resolve(c.Tree.File))
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}

	return tree.ParseNewick(strings.TrimSpace(string(data)))
}

// LoadAlignment reads the configured alignment document.
func (c *Config) LoadAlignment() (*alignment.Alignment, error) {
	if c.Alignment.File == "" {
		return nil, ErrNoAlignment
	}

	f, err := os.Open(c.resolve(c.Alignment.File))
	if err != nil {
		return nil, fmt.Errorf("open alignment: %w", err)
	}
	defer f.Close()

	return alignment.Load(f)
}

// BuildModel builds the edit model. A zero tape length and empty weights are
// filled in from the alignment, the latter as uniform weights over every
// symbol it uses.
func (c *Config) BuildModel(aln *alignment.Alignment) (*editmodel.Model, error) {
	length := c.Model.TapeLength
	if length == 0 {
		length = aln.TapeLength()
	}

	weights := c.Model.Weights
	if len(weights) == 0 {
		weights = uniformWeights(max(aln.MaxSymbol(), 1))
	}

	opts := []editmodel.Option{
		editmodel.WithEditRate(c.Model.EditRate),
		editmodel.WithPerCategoryRate(c.Model.PerCategoryRate),
		editmodel.WithPositionalPrefix(c.Model.PositionalPrefix),
	}

	if hm := c.Model.Missingness; hm.Enabled {
		opts = append(opts, editmodel.WithHeritableMissingness(editmodel.HeritableMissingness{
			LossRate:       hm.LossRate,
			TipProbability: hm.TipProbability,
		}))
	}

	return editmodel.New(length, weights, opts...)
}

// BuildSiteModel returns the rate categories. Without a gamma shape, or with a
// single category, every branch evolves at the clock rate.
func (c *Config) BuildSiteModel() (*clock.SiteModel, error) {
	if c.Clock.GammaShape == 0 || c.Clock.Categories == 1 {
		return clock.SingleCategory(), nil
	}

	return clock.GammaCategories(c.Clock.GammaShape, c.Clock.Categories)
}

// BranchRates returns a fresh clock for a tree of nodeCount nodes: a strict
// clock, or per-branch rates all starting at clock.rate.
func (c *Config) BranchRates(nodeCount int) (clock.BranchRates, error) {
	if !c.Clock.PerBranch {
		return clock.Strict(c.Clock.Rate), nil
	}

	rates := make([]float64, nodeCount)
	for i := range rates {
		rates[i] = c.Clock.Rate
	}

	return clock.NewPerBranch(rates)
}

// LikelihoodOptions translates the clock and likelihood sections into engine options.
func (c *Config) LikelihoodOptions(sites *clock.SiteModel, rates clock.BranchRates) []likelihood.Option {
	opts := []likelihood.Option{
		likelihood.WithBranchRates(rates),
		likelihood.WithSiteModel(sites),
		likelihood.WithScaling(c.Likelihood.Scaling),
		likelihood.WithScalingThreshold(c.Likelihood.ScalingThreshold),
	}

	if c.Likelihood.Origin > 0 {
		opts = append(opts, likelihood.WithOrigin(c.Likelihood.Origin))
	}

	return opts
}

// Observability builds the telemetry configuration for a run.
func (c *Config) Observability(mode observability.AppMode, version, runID string) observability.Config {
	cfg := observability.DefaultConfig()

	cfg.ServiceVersion = version
	cfg.Environment = c.Telemetry.Environment
	cfg.Mode = mode
	cfg.RunID = runID
	cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	cfg.OTLPInsecure = c.Telemetry.OTLPInsecure
	cfg.SampleRatio = c.Telemetry.SampleRatio
	cfg.LogJSON = c.Logging.Format == "json"

	if level, err := c.Logging.SlogLevel(); err == nil {
		cfg.LogLevel = level
	}

	if secs := int(c.Telemetry.ShutdownTimeout.Seconds()); secs > 0 {
		cfg.ShutdownTimeoutSec = secs
	}

	return cfg
}

// BenchReportDir returns bench.report_dir resolved against the config file's
// directory, or "" when reports are disabled.
func (c *Config) BenchReportDir() string {
	if c.Bench.ReportDir == "" {
		return ""
	}

	return c.resolve(c.Bench.ReportDir)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}

	return filepath.Join(c.baseDir, path)
}

func uniformWeights(n int) []float64 {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1 / float64(n)
	}

	return weights
}
