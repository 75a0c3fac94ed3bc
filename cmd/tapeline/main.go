// Package main provides the entry point for the tapeline CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tapeline/cmd/tapeline/commands"
	"github.com/Sumatoshi-tech/tapeline/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	verbosity := &commands.Verbosity{}

	rootCmd := &cobra.Command{
		Use:   "tapeline",
		Short: "Tapeline - lineage barcode likelihood and parsimony scoring",
		Long: `Tapeline scores editing-tape barcodes observed at the tips of a time tree.

Commands:
  score      Log-likelihood under the edit model
  parsimony  Edit-count cost and reconstructed ancestral states
  ancestors  Possible ancestors of a single tape
  bench      Accept/reject loop exercising incremental re-evaluation`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbosity.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&verbosity.Quiet, "quiet", "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewScoreCommand(verbosity))
	rootCmd.AddCommand(commands.NewParsimonyCommand(verbosity))
	rootCmd.AddCommand(commands.NewAncestorsCommand())
	rootCmd.AddCommand(commands.NewBenchCommand(verbosity))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
