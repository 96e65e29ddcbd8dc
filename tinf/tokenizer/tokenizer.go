package tokenizer

import (
	"github.com/RoaringBitmap/roaring"
)

// Encoder converts an ordered batch of raw strings into padded encodings.
// The returned batch has exactly one Encoding per input, in input order.
type Encoder interface {
	Encode(texts []string) (*Batch, error)
}

// Encoding is one sequence's token ids, attention mask and token-type ids.
// After PadBatch all three slices have the batch's MaxLen; Length keeps the
// true token count, so Mask[j] == 1 exactly when j < Length.
type Encoding struct {
	IDs     []int64
	TypeIDs []int64
	Mask    []int64
	Tokens  []string
	// Special holds the positions of tokens inserted by the tokenizer
	// (e.g. [CLS], [SEP]). Padding positions are not included.
	Special *roaring.Bitmap
	Length  int
}

// Batch is a group of encodings sharing one padded length.
type Batch struct {
	Encodings []Encoding
	MaxLen    int
}

// Size returns the number of sequences in the batch.
func (b *Batch) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Encodings)
}

// Lengths returns the true token count of every encoding, in order.
func (b *Batch) Lengths() []int {
	out := make([]int, b.Size())
	for i, e := range b.Encodings {
		out[i] = e.Length
	}
	return out
}

// Options configure how a tokenizer artifact is resolved and applied.
type Options struct {
	// MaxLength truncates encodings (special tokens included). 0 disables truncation.
	MaxLength int
	// PadToMultipleOf rounds the batch length up to a multiple of this value. 0 disables it.
	PadToMultipleOf int
	// Lowercase applies only to tokenizers built from a bare vocab.txt.
	Lowercase bool
	// AllowDownload lets Load fetch tokenizer.json for a named model into the local cache.
	AllowDownload bool
	// SearchDirs are checked for <dir>/<identifier>/ before downloading.
	SearchDirs []string
}

// PadBatch right-pads every encoding to the longest one in the group (rounded
// up to multiple when multiple > 0). Pad cells carry id 0, type id 0 and mask 0.
// Padding is batch-relative: the same text may get a different total length in
// another batch.
func PadBatch(encs []Encoding, multiple int) *Batch {
	maxLen := 0
	for _, e := range encs {
		if e.Length > maxLen {
			maxLen = e.Length
		}
	}
	if multiple > 0 && maxLen%multiple != 0 {
		maxLen += multiple - maxLen%multiple
	}

	out := make([]Encoding, len(encs))
	for i, e := range encs {
		out[i] = Encoding{
			IDs:     padInts(e.IDs, e.Length, maxLen),
			TypeIDs: padInts(e.TypeIDs, e.Length, maxLen),
			Mask:    make([]int64, maxLen),
			Tokens:  make([]string, maxLen),
			Special: e.Special,
			Length:  e.Length,
		}
		for j := 0; j < e.Length; j++ {
			out[i].Mask[j] = 1
		}
		copy(out[i].Tokens, e.Tokens)
		if out[i].Special == nil {
			out[i].Special = roaring.New()
		}
	}
	return &Batch{Encodings: out, MaxLen: maxLen}
}

func padInts(src []int64, n, size int) []int64 {
	dst := make([]int64, size)
	if n > len(src) {
		n = len(src)
	}
	copy(dst, src[:n])
	return dst
}
