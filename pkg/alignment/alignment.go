// Package alignment holds the observed barcode of every sampled cell and reads
// and writes it as YAML.
package alignment

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/tapeline/pkg/tape"
)

// DefaultMissingMarker is the textual marker for a lost barcode.
const DefaultMissingMarker = "?"

// Sentinel errors.
var (
	ErrInvalidTapeLength = errors.New("tape length must be positive")
	ErrLengthMismatch    = errors.New("barcode length differs from tape length")
	ErrEmptyAlignment    = errors.New("alignment has no barcodes")
	ErrInvalidBarcode    = errors.New("invalid barcode")
)

// Source is the read-only alignment surface consumed by the scoring engines.
type Source interface {
	TapeLength() int
	Tape(name string) (tape.Tape, bool)
}

// Alignment maps taxon names to observed tapes of a common length.
type Alignment struct {
	tapes      map[string]tape.Tape
	taxa       []string
	tapeLength int
}

var _ Source = (*Alignment)(nil)

// New validates barcodes and builds an Alignment. Taxa are kept in sorted order.
func New(tapeLength int, barcodes map[string]tape.Tape) (*Alignment, error) {
	if tapeLength <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTapeLength, tapeLength)
	}

	if len(barcodes) == 0 {
		return nil, ErrEmptyAlignment
	}

	a := &Alignment{
		tapes:      make(map[string]tape.Tape, len(barcodes)),
		taxa:       make([]string, 0, len(barcodes)),
		tapeLength: tapeLength,
	}

	for name, t := range barcodes {
		if len(t) != tapeLength {
			return nil, fmt.Errorf("%w: %s has %d positions, want %d", ErrLengthMismatch, name, len(t), tapeLength)
		}

		err := t.Validate()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidBarcode, name, err)
		}

		a.tapes[name] = t.Clone()
		a.taxa = append(a.taxa, name)
	}

	slices.Sort(a.taxa)

	return a, nil
}

// TapeLength returns the common tape length.
func (a *Alignment) TapeLength() int { return a.tapeLength }

// Taxa returns taxon names in sorted order.
func (a *Alignment) Taxa() []string { return slices.Clone(a.taxa) }

// Tape returns a copy of the observed tape of a taxon.
func (a *Alignment) Tape(name string) (tape.Tape, bool) {
	t, ok := a.tapes[name]
	if !ok {
		return nil, false
	}

	return t.Clone(), true
}

// MaxSymbol returns the largest edit symbol observed.
func (a *Alignment) MaxSymbol() int {
	maxSymbol := 0

	for _, t := range a.tapes {
		for _, s := range t {
			maxSymbol = max(maxSymbol, s)
		}
	}

	return maxSymbol
}

type document struct {
	TapeLength int               `yaml:"tape_length"`
	Missing    string            `yaml:"missing,omitempty"`
	Barcodes   map[string]string `yaml:"barcodes"`
}

// Load reads an alignment document:
//
//	tape_length: 5
//	missing: "?"
//	barcodes:
//	  A: "1,2,0,0,0"
//	  B: "?"
func Load(r io.Reader) (*Alignment, error) {
	var doc document

	err := yaml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("decode alignment: %w", err)
	}

	marker := doc.Missing
	if marker == "" {
		marker = DefaultMissingMarker
	}

	barcodes := make(map[string]tape.Tape, len(doc.Barcodes))

	for name, raw := range doc.Barcodes {
		if strings.TrimSpace(raw) == marker {
			barcodes[name] = tape.Missing(doc.TapeLength)

			continue
		}

		t, parseErr := tape.Parse(raw)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidBarcode, name, parseErr)
		}

		barcodes[name] = t
	}

	return New(doc.TapeLength, barcodes)
}

// Marshal encodes the alignment in the format read by Load.
func (a *Alignment) Marshal() ([]byte, error) {
	doc := document{
		TapeLength: a.tapeLength,
		Missing:    DefaultMissingMarker,
		Barcodes:   make(map[string]string, len(a.tapes)),
	}

	for name, t := range a.tapes {
		if t.IsMissing() {
			doc.Barcodes[name] = DefaultMissingMarker

			continue
		}

		doc.Barcodes[name] = t.String()
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encode alignment: %w", err)
	}

	return out, nil
}
