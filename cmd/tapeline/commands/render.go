package commands

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/tapeline/pkg/tree"
)

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

// warnInfinite prints a highlighted warning when a score is not finite.
func warnInfinite(w io.Writer, label string, score float64, reason string) {
	if !math.IsInf(score, 0) && !math.IsNaN(score) {
		return
	}

	color.New(color.FgYellow).Fprintf(w, "warning: %s is %v (%s)\n", label, score, reason)
}

// cladeLabel names an internal node by the sorted leaves below it.
func cladeLabel(tr *tree.Tree, id int) string {
	var names []string

	var walk func(int)

	walk = func(n int) {
		if tr.IsLeaf(n) {
			names = append(names, tr.Name(n))

			return
		}

		left, right := tr.Children(n)
		walk(left)
		walk(right)
	}

	walk(id)
	sort.Strings(names)

	return "(" + strings.Join(names, ",") + ")"
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
