package tensor

import (
	"github.com/ZanzyTHEbar/textinfer/tinf/common"
)

// Output is a raw float model output: [batch, classes] for sequence
// classification or [batch, seq_len, labels] for token classification.
type Output struct {
	Shape []int64
	Data  []float32
}

// Rank returns the number of axes.
func (o *Output) Rank() int { return len(o.Shape) }

func (o *Output) checkLen() error {
	n := int64(1)
	for _, d := range o.Shape {
		if d < 0 {
			return common.Errorf(common.ErrShapeMismatch, "negative dimension in %v", o.Shape)
		}
		n *= d
	}
	if int64(len(o.Data)) != n {
		return common.Errorf(common.ErrShapeMismatch, "output data length %d does not match shape %v", len(o.Data), o.Shape)
	}
	return nil
}

// Rows2 splits a rank-2 output into one row per sequence.
func (o *Output) Rows2() ([][]float32, error) {
	if o.Rank() != 2 {
		return nil, common.Errorf(common.ErrShapeMismatch, "expected rank 2 output, got shape %v", o.Shape)
	}
	if err := o.checkLen(); err != nil {
		return nil, err
	}
	rows, cols := int(o.Shape[0]), int(o.Shape[1])
	out := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		out[r] = append([]float32(nil), o.Data[r*cols:(r+1)*cols]...)
	}
	return out, nil
}

// Rows3 splits a rank-3 output into [batch][seq_len][labels].
func (o *Output) Rows3() ([][][]float32, error) {
	if o.Rank() != 3 {
		return nil, common.Errorf(common.ErrShapeMismatch, "expected rank 3 output, got shape %v", o.Shape)
	}
	if err := o.checkLen(); err != nil {
		return nil, err
	}
	b, s, l := int(o.Shape[0]), int(o.Shape[1]), int(o.Shape[2])
	out := make([][][]float32, b)
	for i := 0; i < b; i++ {
		out[i] = make([][]float32, s)
		for j := 0; j < s; j++ {
			start := (i*s + j) * l
			out[i][j] = append([]float32(nil), o.Data[start:start+l]...)
		}
	}
	return out, nil
}
