package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tapeline/pkg/observability"
	"github.com/Sumatoshi-tech/tapeline/pkg/parsimony"
)

// NewParsimonyCommand creates the parsimony subcommand.
func NewParsimonyCommand(verbosity *Verbosity) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "parsimony",
		Short: "Compute the parsimony cost and reconstructed ancestral states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runParsimony(cmd, configPath, verbosity)
		},
	}

	cmd.Flags().StringVarP(&configPath, configFlag, configFlagShort, "", configFlagUsage)

	return cmd
}

func runParsimony(cmd *cobra.Command, configPath string, verbosity *Verbosity) error {
	s, err := openSession(configPath, observability.ModeCLI, "", verbosity)
	if err != nil {
		return err
	}
	defer s.close()

	metrics, err := observability.NewEngineMetrics(s.providers.Meter)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}

	eng, err := parsimony.New(s.tree, s.aln, s.model,
		parsimony.WithLogger(s.logger),
		parsimony.WithMetrics(metrics),
		parsimony.WithTracer(s.providers.Tracer),
	)
	if err != nil {
		return fmt.Errorf("build parsimony engine: %w", err)
	}

	cost := eng.Evaluate(context.Background())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "parsimony cost: %v\n", cost)

	tbl := newTable(out)
	tbl.AppendHeader([]any{"Node", "Clade", "Height", "State", "Edits"})

	for id := s.tree.LeafCount(); id < s.tree.NodeCount(); id++ {
		state := eng.State(id)
		tbl.AppendRow([]any{id, cladeLabel(s.tree, id), s.tree.Height(id), state.String(), state.EditCount()})
	}

	tbl.Render()

	warnInfinite(out, "parsimony cost", cost, "a branch needs an edit to be reverted")

	return nil
}
