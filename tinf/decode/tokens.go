package decode

import (
	"fmt"
)

// Tokens turns [batch][seq_len][labels] scores into a [batch][seq_len] tag
// grid. Every position is decoded, including padding and special tokens;
// use Trim to drop them.
func Tokens(logits [][][]float32, labels LabelMap, tb TieBreak) ([][]string, error) {
	out := make([][]string, len(logits))
	for i, seq := range logits {
		out[i] = make([]string, len(seq))
		for j, scores := range seq {
			name, err := labels.Lookup(Argmax(scores, tb))
			if err != nil {
				return nil, fmt.Errorf("sequence %d position %d: %w", i, j, err)
			}
			out[i][j] = name
		}
	}
	return out, nil
}
