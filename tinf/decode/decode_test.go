package decode

import (
	"math"
	"testing"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"
	"github.com/ZanzyTHEbar/textinfer/tinf/tokenizer"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftmaxRowsSumToOne(t *testing.T) {
	logits := [][]float32{
		{-1.5, 2.25},
		{3, -3},
		{0, 0, 0, 0},
		{1000, 999, -1000},
		{-80, -81},
	}

	probs := Softmax(logits)

	require.Len(t, probs, len(logits))
	for i, row := range probs {
		require.Len(t, row, len(logits[i]))
		var sum float64
		for _, p := range row {
			assert.GreaterOrEqual(t, p, float32(0))
			assert.LessOrEqual(t, p, float32(1))
			assert.False(t, math.IsNaN(float64(p)))
			sum += float64(p)
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d", i)
	}
	assert.Greater(t, probs[0][1], probs[0][0])
	assert.Greater(t, probs[1][0], probs[1][1])
	assert.InDelta(t, 0.25, probs[2][0], 1e-6)
}

func TestSoftmaxKnownValues(t *testing.T) {
	row := SoftmaxRow([]float32{1, 2, 3})
	assert.InDeltaSlice(t, []float32{0.09003057, 0.24472847, 0.66524096}, row, 1e-6)
	assert.Empty(t, SoftmaxRow(nil))
}

func TestSoftmaxDeterministic(t *testing.T) {
	logits := [][]float32{{0.1, -0.7, 2.3}, {5, 5.5, -1}}
	assert.Equal(t, Softmax(logits), Softmax(logits))
}

// Equal maxima resolve differently under the two policies. TieLast reproduces
// the scan that lets a candidate replace the best unless the best is strictly
// greater; this is observed behaviour, kept on purpose.
func TestArgmaxTieBreak(t *testing.T) {
	tied := []float32{0.5, 2, 1, 2, -3}
	assert.Equal(t, 3, Argmax(tied, TieLast))
	assert.Equal(t, 1, Argmax(tied, TieFirst))

	allEqual := []float32{1, 1, 1}
	assert.Equal(t, 2, Argmax(allEqual, TieLast))
	assert.Equal(t, 0, Argmax(allEqual, TieFirst))

	unique := []float32{0.1, 0.9, 0.3}
	assert.Equal(t, 1, Argmax(unique, TieLast))
	assert.Equal(t, 1, Argmax(unique, TieFirst))

	assert.Equal(t, -1, Argmax(nil, TieLast))
	assert.Equal(t, 0, Argmax([]float32{7}, TieFirst))
}

func TestArgmaxNaNComparesEqualUnderTieLast(t *testing.T) {
	nan := float32(math.NaN())
	assert.Equal(t, 1, Argmax([]float32{5, nan}, TieLast))
	assert.Equal(t, 1, Argmax([]float32{nan, 9, 1}, TieLast))
	assert.Equal(t, 0, Argmax([]float32{5, nan}, TieFirst))
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieLast, tb)

	tb, err = ParseTieBreak(config.TieBreakFirst)
	require.NoError(t, err)
	assert.Equal(t, TieFirst, tb)
	assert.Equal(t, "first", tb.String())

	_, err = ParseTieBreak("lowest")
	assert.Error(t, err)
}

func TestLabelMap(t *testing.T) {
	m := NewLabelMap(config.CoNLL03Labels)
	assert.Equal(t, 8, m.Len())
	assert.True(t, m.Covers(8))
	assert.False(t, m.Covers(9))

	name, err := m.Lookup(6)
	require.NoError(t, err)
	assert.Equal(t, "I-PER", name)

	_, err = m.Lookup(8)
	assert.ErrorIs(t, err, common.ErrLabelMap)
	_, err = m.Lookup(-1)
	assert.ErrorIs(t, err, common.ErrLabelMap)

	assert.Equal(t, config.CoNLL03Labels, m.Labels())
}

func TestFromID2Label(t *testing.T) {
	m, err := FromID2Label(map[string]string{"1": "POSITIVE", "0": "NEGATIVE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"NEGATIVE", "POSITIVE"}, m.Labels())
	assert.True(t, m.Covers(2))

	sparse, err := FromID2Label(map[string]string{"0": "O", "2": "B-PER"})
	require.NoError(t, err)
	assert.Equal(t, 3, sparse.Len())
	assert.False(t, sparse.Covers(3))

	_, err = FromID2Label(map[string]string{"x": "O"})
	assert.ErrorIs(t, err, common.ErrLabelMap)
}

func TestTokensShapeMirrorsLogits(t *testing.T) {
	labels := NewLabelMap(config.CoNLL03Labels)
	logits := [][][]float32{
		{
			{0, 0, 0, 0, 0, 0, 0, 9},
			{0, 0, 0, 0, 0, 0, 9, 0},
			{9, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			{0, 0, 9, 0, 0, 0, 0, 0},
			{0, 0, 0, 0, 0, 9, 0, 0},
			{0, 0, 0, 0, 0, 0, 0, 9},
		},
	}

	grid, err := Tokens(logits, labels, TieLast)
	require.NoError(t, err)

	require.Len(t, grid, 2)
	for i := range grid {
		assert.Len(t, grid[i], len(logits[i]))
	}
	assert.Equal(t, [][]string{{"O", "I-PER", "B-LOC"}, {"B-ORG", "I-ORG", "O"}}, grid)
}

func TestTokensTieBreakChangesLabel(t *testing.T) {
	labels := NewLabelMap(config.CoNLL03Labels)
	logits := [][][]float32{{{3, 0, 0, 0, 0, 0, 3, 0}}}

	last, err := Tokens(logits, labels, TieLast)
	require.NoError(t, err)
	first, err := Tokens(logits, labels, TieFirst)
	require.NoError(t, err)

	assert.Equal(t, "I-PER", last[0][0])
	assert.Equal(t, "B-LOC", first[0][0])
}

func TestTokensUnmappedIDIsFatal(t *testing.T) {
	labels := NewLabelMap([]string{"O", "B-PER"})
	logits := [][][]float32{{{0, 1}, {0, 0, 5}}}

	grid, err := Tokens(logits, labels, TieLast)
	assert.ErrorIs(t, err, common.ErrLabelMap)
	assert.ErrorContains(t, err, "position 1")
	assert.Nil(t, grid)
}

func testEncoding(tokens []string, maxLen int) tokenizer.Encoding {
	n := len(tokens)
	e := tokenizer.Encoding{
		IDs:     make([]int64, n),
		TypeIDs: make([]int64, n),
		Tokens:  tokens,
		Special: roaring.BitmapOf(0, uint32(n-1)),
		Length:  n,
	}
	return tokenizer.PadBatch([]tokenizer.Encoding{e}, maxLen).Encodings[0]
}

func TestTrimDropsSpecialAndPadding(t *testing.T) {
	a := testEncoding([]string{"[CLS]", "mario", "lives", "[SEP]"}, 0)
	b := testEncoding([]string{"[CLS]", "hi", "[SEP]"}, 0)
	batch := tokenizer.PadBatch([]tokenizer.Encoding{a, b}, 0)

	labels := [][]string{
		{"O", "I-PER", "O", "O"},
		{"O", "O", "O", "B-LOC"},
	}

	trimmed := Trim(labels, batch)
	assert.Equal(t, [][]string{{"I-PER", "O"}, {"O"}}, trimmed)
	// input untouched
	assert.Len(t, labels[1], 4)
}

func TestEntitiesGroupsBIO(t *testing.T) {
	enc := testEncoding([]string{"[CLS]", "hugging", "##face", "is", "in", "new", "york", "[SEP]"}, 10)
	tags := []string{"O", "B-ORG", "I-ORG", "O", "O", "B-LOC", "I-LOC", "I-LOC", "O", "B-PER"}

	ents := Entities(tags, enc)

	require.Len(t, ents, 2)
	assert.Equal(t, Entity{Label: "ORG", Text: "huggingface", Start: 1, End: 3}, ents[0])
	assert.Equal(t, Entity{Label: "LOC", Text: "new york", Start: 5, End: 7}, ents[1])
}

func TestEntitiesTypeChangeAndSentencePiece(t *testing.T) {
	enc := testEncoding([]string{"<s>", "▁Wa", "ner", "▁Micro", "soft", "</s>"}, 0)
	tags := []string{"O", "I-PER", "I-PER", "I-ORG", "I-ORG", "O"}

	ents := Entities(tags, enc)

	require.Len(t, ents, 2)
	assert.Equal(t, "PER", ents[0].Label)
	assert.Equal(t, "Waner", ents[0].Text)
	assert.Equal(t, "ORG", ents[1].Label)
	assert.Equal(t, "Microsoft", ents[1].Text)
}
