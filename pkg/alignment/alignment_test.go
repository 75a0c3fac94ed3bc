package alignment_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tapeline/pkg/alignment"
	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
)

const sampleDoc = `
tape_length: 5
barcodes:
  A: "1,2,0,0,0"
  B: "1,2,3,0,0"
  C: "?"
`

func TestLoad(t *testing.T) {
	t.Parallel()

	aln, err := alignment.Load(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, 5, aln.TapeLength())
	assert.Equal(t, []string{"A", "B", "C"}, aln.Taxa())
	assert.Equal(t, 3, aln.MaxSymbol())

	a, ok := aln.Tape("A")
	require.True(t, ok)
	assert.Equal(t, tape.MustParse("1,2,0,0,0"), a)

	c, ok := aln.Tape("C")
	require.True(t, ok)
	assert.True(t, c.IsMissing())

	_, ok = aln.Tape("Z")
	assert.False(t, ok)
}

func TestLoad_CustomMissingMarker(t *testing.T) {
	t.Parallel()

	doc := "tape_length: 2\nmissing: NA\nbarcodes:\n  A: NA\n  B: \"1,0\"\n"

	aln, err := alignment.Load(strings.NewReader(doc))
	require.NoError(t, err)

	a, _ := aln.Tape("A")
	assert.True(t, a.IsMissing())
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want error
	}{
		{name: "length_mismatch", doc: "tape_length: 3\nbarcodes:\n  A: \"1,0\"\n", want: alignment.ErrLengthMismatch},
		{name: "gap", doc: "tape_length: 3\nbarcodes:\n  A: \"1,0,2\"\n", want: tape.ErrGap},
		{name: "garbage", doc: "tape_length: 3\nbarcodes:\n  A: \"x\"\n", want: alignment.ErrInvalidBarcode},
		{name: "empty", doc: "tape_length: 3\nbarcodes: {}\n", want: alignment.ErrEmptyAlignment},
		{name: "no_length", doc: "barcodes:\n  A: \"1\"\n", want: alignment.ErrInvalidTapeLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := alignment.Load(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	t.Parallel()

	aln, err := alignment.Load(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	out, err := aln.Marshal()
	require.NoError(t, err)

	again, err := alignment.Load(bytes.NewReader(out))
	require.NoError(t, err)

	for _, name := range aln.Taxa() {
		want, _ := aln.Tape(name)
		got, ok := again.Tape(name)
		require.True(t, ok)
		assert.True(t, want.Equal(got), name)
	}
}

func TestTape_ReturnsCopy(t *testing.T) {
	t.Parallel()

	aln, err := alignment.New(2, map[string]tape.Tape{"A": {1, 0}})
	require.NoError(t, err)

	a, _ := aln.Tape("A")
	a[0] = 7

	again, _ := aln.Tape("A")
	assert.Equal(t, 1, again[0])
}
