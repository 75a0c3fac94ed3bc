package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tapeline/pkg/ancestry"
	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
)

// NewAncestorsCommand creates the ancestors subcommand.
func NewAncestorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ancestors <tape>",
		Short:   "List every tape that could be an ancestor of the given tape",
		Example: `  tapeline ancestors 1,2,3,0,0`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := tape.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse tape: %w", err)
			}

			err = t.Validate()
			if err != nil {
				return fmt.Errorf("invalid tape: %w", err)
			}

			tbl := newTable(cmd.OutOrStdout())
			tbl.AppendHeader([]any{"#", "Ancestor", "Edits"})

			for i, a := range ancestry.PossibleAncestors(t) {
				tbl.AppendRow([]any{i, a.String(), a.EditCount()})
			}

			tbl.Render()

			return nil
		},
	}
}
