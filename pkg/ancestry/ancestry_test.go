package ancestry_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tapeline/pkg/ancestry"
	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
)

func tapes(ss ...string) []tape.Tape {
	out := make([]tape.Tape, len(ss))
	for i, s := range ss {
		out[i] = tape.MustParse(s)
	}

	return out
}

func TestPossibleAncestors(t *testing.T) {
	t.Parallel()

	got := ancestry.PossibleAncestors(tape.MustParse("1,2,3,0,0"))
	want := tapes("1,2,3,0,0", "1,2,0,0,0", "1,0,0,0,0", "0,0,0,0,0")

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PossibleAncestors mismatch (-want +got):\n%s", diff)
	}
}

func TestPossibleAncestors_LengthAndOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "unedited", input: "0,0,0"},
		{name: "one_edit", input: "4,0,0"},
		{name: "saturated", input: "1,1,2"},
		{name: "long", input: "3,1,4,1,5,0,0,0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in := tape.MustParse(tt.input)
			got := ancestry.PossibleAncestors(in)

			require.Len(t, got, in.EditCount()+1)
			assert.True(t, got[0].Equal(in))
			assert.True(t, got[len(got)-1].Equal(tape.Unedited(len(in))))

			for i := 1; i < len(got); i++ {
				assert.Equal(t, got[i-1].EditCount()-1, got[i].EditCount())
			}
		})
	}
}

func TestPossibleAncestors_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	in := tape.MustParse("1,2,0")
	got := ancestry.PossibleAncestors(in)
	got[0][0] = 9

	assert.Equal(t, 1, in[0])
}

func TestPossibleAncestors_Missing(t *testing.T) {
	t.Parallel()

	got := ancestry.PossibleAncestors(tape.Missing(5))

	require.Len(t, got, 1)
	assert.True(t, got[0].IsMissing())
	assert.True(t, ancestry.IsMissingSet(got))
}

func TestIntersect(t *testing.T) {
	t.Parallel()

	missing := []tape.Tape{tape.Missing(5)}
	a := ancestry.PossibleAncestors(tape.MustParse("1,2,3,0,0"))
	b := ancestry.PossibleAncestors(tape.MustParse("1,2,0,0,0"))
	c := ancestry.PossibleAncestors(tape.MustParse("2,0,0,0,0"))

	tests := []struct {
		name     string
		a, b     []tape.Tape
		fallback ancestry.Fallback
		want     []tape.Tape
	}{
		{name: "both_missing", a: missing, b: missing, want: missing},
		{name: "left_missing", a: missing, b: a, want: a},
		{name: "right_missing", a: b, b: missing, want: b},
		{name: "shared_prefix", a: a, b: b, want: tapes("1,2,0,0,0", "1,0,0,0,0", "0,0,0,0,0")},
		{name: "only_root_shared", a: a, b: c, want: tapes("0,0,0,0,0")},
		{name: "disjoint_none", a: tapes("1,0"), b: tapes("2,0"), fallback: ancestry.FallbackNone, want: []tape.Tape{}},
		{name: "disjoint_unedited", a: tapes("1,0"), b: tapes("2,0"), fallback: ancestry.FallbackUnedited, want: tapes("0,0")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ancestry.Intersect(tt.a, tt.b, tt.fallback, len(tt.a[0]))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Intersect mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLongest(t *testing.T) {
	t.Parallel()

	best, ok := ancestry.Longest(tapes("1,0,0", "1,2,0", "0,0,0"))
	require.True(t, ok)
	assert.Equal(t, tape.MustParse("1,2,0"), best)

	_, ok = ancestry.Longest(nil)
	assert.False(t, ok)
}
