package tensor

import (
	"testing"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/tokenizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceBatch() *tokenizer.Batch {
	return tokenizer.PadBatch([]tokenizer.Encoding{
		{IDs: []int64{101, 2017, 2024, 12476, 102}, TypeIDs: make([]int64, 5), Length: 5},
		{IDs: []int64{101, 2017, 2024, 2919, 102}, TypeIDs: make([]int64, 5), Length: 5},
	}, 2)
}

func TestBuildReferenceBatch(t *testing.T) {
	in, err := Build(referenceBatch())
	require.NoError(t, err)
	require.NoError(t, in.Validate())

	assert.Equal(t, []int64{2, 6}, in.IDs.Shape())
	assert.Equal(t, [][]int64{{101, 2017, 2024, 12476, 102, 0}, {101, 2017, 2024, 2919, 102, 0}}, in.IDs.ToRows())
	assert.Equal(t, [][]int64{{1, 1, 1, 1, 1, 0}, {1, 1, 1, 1, 1, 0}}, in.Mask.ToRows())
	assert.Equal(t, [][]int64{{0, 0, 0, 0, 0, 0}, {0, 0, 0, 0, 0, 0}}, in.TypeIDs.ToRows())
	assert.Equal(t, 2, in.Batch())
	assert.Equal(t, 6, in.SeqLen())
}

func TestBuildMaskFollowsLength(t *testing.T) {
	batch := tokenizer.PadBatch([]tokenizer.Encoding{
		{IDs: []int64{101, 5, 6, 7, 102}, TypeIDs: []int64{0, 0, 0, 1, 1}, Length: 5},
		{IDs: []int64{101, 102}, TypeIDs: []int64{0, 0}, Length: 2},
	}, 0)

	in, err := Build(batch)
	require.NoError(t, err)

	for i, e := range batch.Encodings {
		for j := 0; j < in.SeqLen(); j++ {
			want := int64(0)
			if j < e.Length {
				want = 1
			}
			assert.Equal(t, want, in.Mask.At(i, j), "mask[%d][%d]", i, j)
		}
	}
	assert.Equal(t, []int64{0, 0, 0, 1, 1}, in.TypeIDs.Row(0))
	assert.Equal(t, []int64{101, 102, 0, 0, 0}, in.IDs.Row(1))
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(referenceBatch())
	require.NoError(t, err)
	b, err := Build(referenceBatch())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildEmptyBatch(t *testing.T) {
	in, err := Build(tokenizer.PadBatch(nil, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, in.Batch())
	assert.Empty(t, in.IDs.Data)
}

func TestBuildRejectsInconsistentEncoding(t *testing.T) {
	batch := &tokenizer.Batch{
		MaxLen:    2,
		Encodings: []tokenizer.Encoding{{IDs: []int64{1, 2, 3}, TypeIDs: []int64{0, 0, 0}, Length: 3}},
	}
	_, err := Build(batch)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)

	batch = &tokenizer.Batch{
		MaxLen:    3,
		Encodings: []tokenizer.Encoding{{IDs: []int64{1, 2, 3}, TypeIDs: []int64{0}, Length: 3}},
	}
	_, err = Build(batch)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)
}

func TestValidateShapeMismatch(t *testing.T) {
	in := &Inputs{IDs: NewMatrix(2, 3), Mask: NewMatrix(2, 3), TypeIDs: NewMatrix(2, 4)}
	assert.ErrorIs(t, in.Validate(), common.ErrShapeMismatch)

	in = &Inputs{IDs: Matrix{Rows: 2, Cols: 3, Data: make([]int64, 5)}, Mask: NewMatrix(2, 3), TypeIDs: NewMatrix(2, 3)}
	assert.ErrorIs(t, in.Validate(), common.ErrShapeMismatch)
}

func TestForArity(t *testing.T) {
	in, err := Build(referenceBatch())
	require.NoError(t, err)

	two, err := in.ForArity(2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, in.IDs, two[0])
	assert.Equal(t, in.Mask, two[1])

	for _, n := range []int{3, 4} {
		three, err := in.ForArity(n)
		require.NoError(t, err)
		require.Len(t, three, 3)
		assert.Equal(t, in.TypeIDs, three[2])
	}

	_, err = in.ForArity(1)
	assert.ErrorIs(t, err, common.ErrShapeMismatch)
}

func TestOutputRows(t *testing.T) {
	out := &Output{Shape: []int64{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}
	rows, err := out.Rows2()
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, rows)

	_, err = out.Rows3()
	assert.ErrorIs(t, err, common.ErrShapeMismatch)

	out3 := &Output{Shape: []int64{2, 2, 2}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8}}
	grid, err := out3.Rows3()
	require.NoError(t, err)
	assert.Equal(t, [][][]float32{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}, grid)

	short := &Output{Shape: []int64{2, 3}, Data: []float32{1, 2}}
	_, err = short.Rows2()
	assert.ErrorIs(t, err, common.ErrShapeMismatch)
}
