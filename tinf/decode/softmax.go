package decode

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax normalises every row of a [batch, classes] logit matrix into a
// probability distribution. The row maximum is subtracted before
// exponentiation, so large logits do not overflow.
func Softmax(logits [][]float32) [][]float32 {
	out := make([][]float32, len(logits))
	for i, row := range logits {
		out[i] = SoftmaxRow(row)
	}
	return out
}

// SoftmaxRow normalises one logit row.
func SoftmaxRow(row []float32) []float32 {
	if len(row) == 0 {
		return []float32{}
	}
	x := make([]float64, len(row))
	for i, v := range row {
		x[i] = float64(v)
	}
	floats.AddConst(-floats.Max(x), x)
	for i := range x {
		x[i] = math.Exp(x[i])
	}
	floats.Scale(1/floats.Sum(x), x)

	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}
