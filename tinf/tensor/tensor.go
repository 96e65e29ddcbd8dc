package tensor

import (
	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/tokenizer"
)

// Matrix is a row-major [Rows, Cols] int64 matrix, laid out the way ONNX
// Runtime expects flat tensor data.
type Matrix struct {
	Rows int
	Cols int
	Data []int64
}

// NewMatrix returns a zero-filled matrix.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]int64, rows*cols)}
}

// At returns the cell at row i, column j.
func (m Matrix) At(i, j int) int64 { return m.Data[i*m.Cols+j] }

// Set writes the cell at row i, column j.
func (m Matrix) Set(i, j int, v int64) { m.Data[i*m.Cols+j] = v }

// Row returns row i as a slice sharing storage with m.
func (m Matrix) Row(i int) []int64 { return m.Data[i*m.Cols : (i+1)*m.Cols] }

// Shape returns [Rows, Cols].
func (m Matrix) Shape() []int64 { return []int64{int64(m.Rows), int64(m.Cols)} }

// ToRows copies the matrix into nested slices.
func (m Matrix) ToRows() [][]int64 {
	out := make([][]int64, m.Rows)
	for i := range out {
		out[i] = append([]int64(nil), m.Row(i)...)
	}
	return out
}

func (m Matrix) sameShape(o Matrix) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols && len(m.Data) == len(o.Data)
}

// Inputs are the three parallel model inputs built from one batch.
type Inputs struct {
	IDs     Matrix
	Mask    Matrix
	TypeIDs Matrix
}

// Validate fails with common.ErrShapeMismatch unless all three matrices share
// one [batch, max_len] shape.
func (in *Inputs) Validate() error {
	if len(in.IDs.Data) != in.IDs.Rows*in.IDs.Cols {
		return common.Errorf(common.ErrShapeMismatch, "ids data length %d != %dx%d", len(in.IDs.Data), in.IDs.Rows, in.IDs.Cols)
	}
	if !in.IDs.sameShape(in.Mask) || !in.IDs.sameShape(in.TypeIDs) {
		return common.Errorf(common.ErrShapeMismatch, "ids %v, mask %v, type ids %v",
			in.IDs.Shape(), in.Mask.Shape(), in.TypeIDs.Shape())
	}
	return nil
}

// Batch returns the batch dimension.
func (in *Inputs) Batch() int { return in.IDs.Rows }

// SeqLen returns the padded sequence dimension.
func (in *Inputs) SeqLen() int { return in.IDs.Cols }

// ForArity picks the tensors a model with n declared inputs consumes:
// exactly 2 → ids and mask, 3 or more → ids, mask and type ids.
func (in *Inputs) ForArity(n int) ([]Matrix, error) {
	switch {
	case n == 2:
		return []Matrix{in.IDs, in.Mask}, nil
	case n >= 3:
		return []Matrix{in.IDs, in.Mask, in.TypeIDs}, nil
	default:
		return nil, common.Errorf(common.ErrShapeMismatch, "model declares %d inputs, need at least 2", n)
	}
}

// Build materialises a padded batch into zero-initialised [batch, max_len]
// matrices and copies every encoding in cell by cell. Columns beyond an
// encoding's length stay zero. Build is pure: the same batch always yields the
// same matrices.
func Build(batch *tokenizer.Batch) (*Inputs, error) {
	rows, cols := batch.Size(), 0
	if batch != nil {
		cols = batch.MaxLen
	}
	in := &Inputs{
		IDs:     NewMatrix(rows, cols),
		Mask:    NewMatrix(rows, cols),
		TypeIDs: NewMatrix(rows, cols),
	}
	for i := 0; i < rows; i++ {
		e := batch.Encodings[i]
		if e.Length > cols {
			return nil, common.Errorf(common.ErrShapeMismatch, "encoding %d length %d exceeds max_len %d", i, e.Length, cols)
		}
		if len(e.IDs) < e.Length || len(e.TypeIDs) < e.Length {
			return nil, common.Errorf(common.ErrShapeMismatch, "encoding %d: ids %d / type ids %d shorter than length %d",
				i, len(e.IDs), len(e.TypeIDs), e.Length)
		}
		for j := 0; j < e.Length; j++ {
			in.IDs.Set(i, j, e.IDs[j])
			in.Mask.Set(i, j, 1)
			in.TypeIDs.Set(i, j, e.TypeIDs[j])
		}
	}
	return in, nil
}
