package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tapeline/pkg/likelihood"
	"github.com/Sumatoshi-tech/tapeline/pkg/observability"
)

// NewScoreCommand creates the score subcommand.
func NewScoreCommand(verbosity *Verbosity) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the log-likelihood of the barcodes on the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScore(cmd, configPath, verbosity)
		},
	}

	cmd.Flags().StringVarP(&configPath, configFlag, configFlagShort, "", configFlagUsage)

	return cmd
}

func runScore(cmd *cobra.Command, configPath string, verbosity *Verbosity) error {
	s, err := openSession(configPath, observability.ModeCLI, "", verbosity)
	if err != nil {
		return err
	}
	defer s.close()

	sites, err := s.cfg.BuildSiteModel()
	if err != nil {
		return fmt.Errorf("build site model: %w", err)
	}

	metrics, err := observability.NewEngineMetrics(s.providers.Meter)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}

	rates, err := s.cfg.BranchRates(s.tree.NodeCount())
	if err != nil {
		return fmt.Errorf("build clock: %w", err)
	}

	opts := append(s.cfg.LikelihoodOptions(sites, rates),
		likelihood.WithLogger(s.logger),
		likelihood.WithMetrics(metrics),
		likelihood.WithTracer(s.providers.Tracer),
	)

	eng, err := likelihood.New(s.tree, s.aln, s.model, opts...)
	if err != nil {
		return fmt.Errorf("build likelihood engine: %w", err)
	}

	score := eng.Evaluate(context.Background())

	out := cmd.OutOrStdout()
	tbl := newTable(out)
	tbl.AppendHeader([]any{"Metric", "Value"})
	tbl.AppendRow([]any{"log-likelihood", formatScore(score)})
	tbl.AppendRow([]any{"leaves", s.tree.LeafCount()})
	tbl.AppendRow([]any{"tape length", s.model.TapeLength()})
	tbl.AppendRow([]any{"rate categories", eng.CategoryCount()})
	tbl.AppendRow([]any{"root height", s.tree.Height(s.tree.Root())})
	tbl.AppendRow([]any{"origin", originLabel(s.cfg.Likelihood.Origin)})
	tbl.AppendRow([]any{"root ancestral states", len(eng.AncestralSet(s.tree.Root()))})
	tbl.Render()

	warnInfinite(out, "log-likelihood", score, "root not below origin or barcodes impossible under the model")

	return nil
}

func originLabel(origin float64) string {
	if origin == 0 {
		return "none"
	}

	return fmt.Sprintf("%g", origin)
}
