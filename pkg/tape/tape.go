// Package tape defines the editing-tape (lineage barcode) state shared by the
// substitution model, the ancestral state engine and both scoring engines.
//
// A tape is filled left to right: position i holds an edit only if every
// position before it does. Once written, a position never changes.
package tape

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// UneditedSymbol marks a position that has not been written yet.
	UneditedSymbol = 0

	// MissingSymbol fills every position of the missing-data sentinel tape.
	MissingSymbol = -1

	separator = ","
)

// Sentinel errors.
var (
	ErrEmptyTape     = errors.New("tape has no positions")
	ErrInvalidSymbol = errors.New("invalid tape symbol")
	ErrGap           = errors.New("edited position follows an unedited one")
	ErrMixedMissing  = errors.New("missing symbol mixed with observed symbols")
)

// Tape is an ordered, fixed-length sequence of edit symbols.
type Tape []int

// Unedited returns the all-unedited tape of the given length.
func Unedited(length int) Tape {
	return make(Tape, length)
}

// Missing returns the missing-data sentinel tape of the given length.
func Missing(length int) Tape {
	t := make(Tape, length)
	for i := range t {
		t[i] = MissingSymbol
	}

	return t
}

// IsMissing reports whether t is the missing-data sentinel.
func (t Tape) IsMissing() bool {
	if len(t) == 0 {
		return false
	}

	for _, s := range t {
		if s != MissingSymbol {
			return false
		}
	}

	return true
}

// EditCount returns the number of edited positions.
func (t Tape) EditCount() int {
	n := 0

	for _, s := range t {
		if s != UneditedSymbol && s != MissingSymbol {
			n++
		}
	}

	return n
}

// Edited returns the edited symbols in tape order with unedited positions stripped.
func (t Tape) Edited() []int {
	out := make([]int, 0, len(t))

	for _, s := range t {
		if s != UneditedSymbol {
			out = append(out, s)
		}
	}

	return out
}

// Equal reports value equality.
func (t Tape) Equal(other Tape) bool {
	if len(t) != len(other) {
		return false
	}

	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}

	return true
}

// Clone returns an independent copy of t.
func (t Tape) Clone() Tape {
	out := make(Tape, len(t))
	copy(out, t)

	return out
}

// Key returns a string usable as a map key for t.
func (t Tape) Key() string {
	return t.String()
}

// String renders t as comma-separated symbols, e.g. "1,2,0,0,0".
func (t Tape) String() string {
	var sb strings.Builder

	for i, s := range t {
		if i > 0 {
			sb.WriteString(separator)
		}

		sb.WriteString(strconv.Itoa(s))
	}

	return sb.String()
}

// Validate checks that t is either the missing sentinel or a gap-free
// left-to-right filled tape of non-negative symbols.
func (t Tape) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTape
	}

	if t.IsMissing() {
		return nil
	}

	seenUnedited := false

	for i, s := range t {
		switch {
		case s == MissingSymbol:
			return fmt.Errorf("%w: position %d", ErrMixedMissing, i)
		case s < 0:
			return fmt.Errorf("%w: %d at position %d", ErrInvalidSymbol, s, i)
		case s == UneditedSymbol:
			seenUnedited = true
		case seenUnedited:
			return fmt.Errorf("%w: position %d", ErrGap, i)
		}
	}

	return nil
}

// Parse reads a comma-separated tape such as "1,2,0,0,0". Whitespace around
// symbols is ignored. Parse does not validate the fill invariant.
func Parse(s string) (Tape, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyTape
	}

	fields := strings.Split(s, separator)
	out := make(Tape, 0, len(fields))

	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, f)
		}

		if v < MissingSymbol {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSymbol, v)
		}

		out = append(out, v)
	}

	return out, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Tape {
	t, err := Parse(s)
	if err != nil {
		panic("tape: " + err.Error())
	}

	return t
}
