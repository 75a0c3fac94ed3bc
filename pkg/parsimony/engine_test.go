package parsimony_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tapeline/pkg/alignment"
	"github.com/Sumatoshi-tech/tapeline/pkg/editmodel"
	"github.com/Sumatoshi-tech/tapeline/pkg/parsimony"
	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
	"github.com/Sumatoshi-tech/tapeline/pkg/tree"
)

func newAlignment(t *testing.T, barcodes map[string]string) *alignment.Alignment {
	t.Helper()

	tapes := make(map[string]tape.Tape, len(barcodes))
	for name, s := range barcodes {
		tapes[name] = tape.MustParse(s)
	}

	aln, err := alignment.New(5, tapes)
	require.NoError(t, err)

	return aln
}

func newModel(t *testing.T) *editmodel.Model {
	t.Helper()

	m, err := editmodel.New(5, []float64{0.25, 0.25, 0.25, 0.25})
	require.NoError(t, err)

	return m
}

func parse(t *testing.T, newick string) *tree.Tree {
	t.Helper()

	tr, err := tree.ParseNewick(newick)
	require.NoError(t, err)

	return tr
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		newick    string
		barcodes  map[string]string
		wantCost  float64
		wantState string
	}{
		{
			name:      "cherry with shared prefix",
			newick:    "(A:1,B:1);",
			barcodes:  map[string]string{"A": "1,2,3,0,0", "B": "1,2,0,0,0"},
			wantCost:  3,
			wantState: "1,2,0,0,0",
		},
		{
			name:      "disjoint cherry falls back to unedited",
			newick:    "(A:1,B:1);",
			barcodes:  map[string]string{"A": "1,2,0,0,0", "B": "3,0,0,0,0"},
			wantCost:  3,
			wantState: "0,0,0,0,0",
		},
		{
			name:      "missing sibling is a wildcard",
			newick:    "(A:1,B:1);",
			barcodes:  map[string]string{"A": "1,2,0,0,0", "B": "-1,-1,-1,-1,-1"},
			wantCost:  2,
			wantState: "1,2,0,0,0",
		},
		{
			name:      "both missing",
			newick:    "(A:1,B:1);",
			barcodes:  map[string]string{"A": "-1,-1,-1,-1,-1", "B": "-1,-1,-1,-1,-1"},
			wantCost:  0,
			wantState: "-1,-1,-1,-1,-1",
		},
		{
			name:   "nested clades",
			newick: "((A:1,B:1):1,(C:1,D:1):1);",
			barcodes: map[string]string{
				"A": "1,2,3,0,0",
				"B": "1,2,4,0,0",
				"C": "1,3,0,0,0",
				"D": "1,3,3,1,0",
			},
			// (A,B) at 12: 1+1; (C,D) at 13: 0+2; root at 1: 1+1; origin branch 1.
			wantCost:  7,
			wantState: "1,0,0,0,0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := parse(t, tt.newick)

			eng, err := parsimony.New(tr, newAlignment(t, tt.barcodes), newModel(t))
			require.NoError(t, err)

			assert.InDelta(t, tt.wantCost, eng.Evaluate(context.Background()), 0)
			assert.Equal(t, tt.wantState, eng.State(tr.Root()).String())
		})
	}
}

func TestAncestralSet_IsChainOfState(t *testing.T) {
	t.Parallel()

	tr := parse(t, "(A:1,B:1);")

	eng, err := parsimony.New(tr, newAlignment(t, map[string]string{"A": "1,2,3,0,0", "B": "1,2,0,0,0"}), newModel(t))
	require.NoError(t, err)

	eng.Evaluate(context.Background())

	set := eng.AncestralSet(tr.Root())
	require.Len(t, set, 3)
	assert.Equal(t, "1,2,0,0,0", set[0].String())
	assert.Equal(t, "1,0,0,0,0", set[1].String())
	assert.Equal(t, "0,0,0,0,0", set[2].String())

	leaf, ok := tr.LeafIndex("A")
	require.True(t, ok)
	assert.Len(t, eng.AncestralSet(leaf), 4)
	assert.Equal(t, "1,2,3,0,0", eng.State(leaf).String())
}

func TestExchange_StoreRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := parse(t, "((A:1,B:1):1,(C:1,D:1):1);")
	aln := newAlignment(t, map[string]string{
		"A": "1,2,0,0,0",
		"B": "3,0,0,0,0",
		"C": "1,2,4,0,0",
		"D": "3,1,0,0,0",
	})

	eng, err := parsimony.New(tr, aln, newModel(t))
	require.NoError(t, err)

	// Cherries share nothing: every edit is counted from the unedited tape.
	before := eng.Evaluate(ctx)
	assert.InDelta(t, 8.0, before, 0)

	tr.SetAllClean()
	tr.Store()
	eng.Store()

	b, _ := tr.LeafIndex("B")
	c, _ := tr.LeafIndex("C")
	require.NoError(t, tr.Exchange(b, c))

	// (A,C) at 12: 0+1; (B,D) at 3: 0+1; root at unedited: 2+1.
	assert.InDelta(t, 5.0, eng.Evaluate(ctx), 0)

	fresh, err := parsimony.New(tr.Copy(), aln, newModel(t))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, fresh.Evaluate(ctx), 0)

	tr.Restore()
	eng.Restore()
	tr.SetAllClean()

	assert.InDelta(t, before, eng.Evaluate(ctx), 0)
}

func TestEvaluate_IgnoresBranchLengths(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := parse(t, "((A:1,B:1):1,C:2);")
	aln := newAlignment(t, map[string]string{"A": "1,2,0,0,0", "B": "1,3,0,0,0", "C": "2,0,0,0,0"})

	eng, err := parsimony.New(tr, aln, newModel(t))
	require.NoError(t, err)

	before := eng.Evaluate(ctx)
	tr.SetAllClean()

	require.NoError(t, tr.ScaleHeights(3))
	assert.InDelta(t, before, eng.Evaluate(ctx), 0)

	eng.MarkFilthyFromRoot()
	assert.InDelta(t, before, eng.Evaluate(ctx), 0)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tr := parse(t, "(A:1,B:1);")
	model := newModel(t)

	short, err := editmodel.New(4, []float64{1})
	require.NoError(t, err)

	tests := []struct {
		name    string
		aln     alignment.Source
		model   *editmodel.Model
		wantErr error
	}{
		{name: "nil alignment", model: model, wantErr: parsimony.ErrNilCollaborator},
		{name: "length mismatch", aln: newAlignment(t, map[string]string{"A": "1,0,0,0,0", "B": "1,0,0,0,0"}), model: short, wantErr: parsimony.ErrTapeLengthMismatch},
		{name: "missing barcode", aln: newAlignment(t, map[string]string{"A": "1,0,0,0,0"}), model: model, wantErr: parsimony.ErrMissingBarcode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parsimony.New(tr, tt.aln, tt.model)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
