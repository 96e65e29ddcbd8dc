package decode

import (
	"fmt"

	"github.com/ZanzyTHEbar/textinfer/tinf/config"
)

// TieBreak selects which index wins when several scores share the maximum.
type TieBreak int

const (
	// TieLast scans left to right and lets a candidate replace the current
	// best unless the best is strictly greater. Among equal maxima the last
	// one wins, and NaN compares as equal to everything. This matches Rust's
	// Iterator::max_by with partial_cmp falling back to Equal, which is how
	// the stock sentiment and NER heads were decoded, so it is the default.
	TieLast TieBreak = iota
	// TieFirst keeps the first index holding the maximum.
	TieFirst
)

// ParseTieBreak maps a config value to a TieBreak. Empty means TieLast.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", config.TieBreakLast:
		return TieLast, nil
	case config.TieBreakFirst:
		return TieFirst, nil
	default:
		return TieLast, fmt.Errorf("unknown tie break %q", s)
	}
}

func (tb TieBreak) String() string {
	if tb == TieFirst {
		return config.TieBreakFirst
	}
	return config.TieBreakLast
}

// Argmax returns the index of the maximum score in row, or -1 for an empty row.
func Argmax(row []float32, tb TieBreak) int {
	if len(row) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(row); i++ {
		switch tb {
		case TieFirst:
			if row[i] > row[best] {
				best = i
			}
		default:
			if !(row[best] > row[i]) {
				best = i
			}
		}
	}
	return best
}
