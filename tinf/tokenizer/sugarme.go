package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"

	"github.com/RoaringBitmap/roaring"
	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/sugarme/tokenizer/processor"
)

// addedSpecialTokens is what single-sequence BERT and RoBERTa post-processors
// add around the text ([CLS] … [SEP], <s> … </s>).
const addedSpecialTokens = 2

// SugarEncoder wraps a sugarme tokenizer. Library-side padding is disabled;
// the batch is padded by PadBatch so the padded length is batch-relative.
type SugarEncoder struct {
	t        *tk.Tokenizer
	source   string
	multiple int
}

// NewFromVocab builds a BERT WordPiece tokenizer from a vocab.txt file.
// [CLS] and [SEP] must be present in the vocabulary.
func NewFromVocab(vocabPath string, opts Options) (*SugarEncoder, error) {
	if err := checkMaxLength(opts.MaxLength); err != nil {
		return nil, err
	}
	vocab, err := readVocab(vocabPath)
	if err != nil {
		return nil, common.Wrap(common.ErrTokenization, err, "read vocab %s", vocabPath)
	}
	clsID, okCLS := vocab["[CLS]"]
	sepID, okSEP := vocab["[SEP]"]
	if !okCLS || !okSEP {
		return nil, common.Errorf(common.ErrTokenization, "vocab %s lacks [CLS]/[SEP]", vocabPath)
	}
	if _, ok := vocab["[UNK]"]; !ok {
		return nil, common.Errorf(common.ErrTokenization, "vocab %s lacks [UNK]", vocabPath)
	}

	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, "[UNK]")
	if err != nil {
		return nil, common.Wrap(common.ErrTokenization, err, "build wordpiece from %s", vocabPath)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, opts.Lowercase, opts.Lowercase))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	t.WithPostProcessor(processor.NewBertProcessing(
		processor.PostToken{Value: "[SEP]", Id: sepID},
		processor.PostToken{Value: "[CLS]", Id: clsID},
	))
	applyTruncation(t, opts.MaxLength)
	return &SugarEncoder{t: t, source: vocabPath, multiple: opts.PadToMultipleOf}, nil
}

// NewFromFile loads a serialized tokenizer.json (WordPiece, BPE, ...).
func NewFromFile(path string, opts Options) (*SugarEncoder, error) {
	if err := checkMaxLength(opts.MaxLength); err != nil {
		return nil, err
	}
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, common.Wrap(common.ErrTokenization, err, "load tokenizer %s", path)
	}
	t.WithPadding(nil)
	applyTruncation(t, opts.MaxLength)
	return &SugarEncoder{t: t, source: path, multiple: opts.PadToMultipleOf}, nil
}

// checkMaxLength rejects limits that leave no room for text once the special
// tokens are added.
func checkMaxLength(maxLength int) error {
	if maxLength < 0 || (maxLength > 0 && maxLength <= addedSpecialTokens) {
		return common.Errorf(common.ErrTokenization,
			"maxLength %d must be 0 or greater than the %d special tokens", maxLength, addedSpecialTokens)
	}
	return nil
}

// applyTruncation truncates single sequences only; the default LongestFirst
// strategy expects a pair.
func applyTruncation(t *tk.Tokenizer, maxLength int) {
	if maxLength > 0 {
		t.WithTruncation(&tk.TruncationParams{MaxLength: maxLength, Strategy: tk.OnlyFirst})
	}
}

// Source returns the artifact path the encoder was built from.
func (s *SugarEncoder) Source() string { return s.source }

// Encode tokenizes texts with special tokens and pads them batch-relative.
func (s *SugarEncoder) Encode(texts []string) (*Batch, error) {
	encs := make([]Encoding, len(texts))
	for i, txt := range texts {
		enc, err := s.t.EncodeSingle(txt, true)
		if err != nil {
			return nil, common.Wrap(common.ErrTokenization, err, "encode sequence %d", i)
		}
		e, err := fromSugar(enc)
		if err != nil {
			return nil, common.Wrap(common.ErrTokenization, err, "sequence %d", i)
		}
		encs[i] = e
	}
	return PadBatch(encs, s.multiple), nil
}

func fromSugar(enc *tk.Encoding) (Encoding, error) {
	n := len(enc.Ids)
	if len(enc.TypeIds) != n {
		return Encoding{}, fmt.Errorf("type ids length %d != ids length %d", len(enc.TypeIds), n)
	}
	out := Encoding{
		IDs:     make([]int64, n),
		TypeIDs: make([]int64, n),
		Tokens:  append([]string(nil), enc.Tokens...),
		Special: roaring.New(),
		Length:  n,
	}
	for j := 0; j < n; j++ {
		out.IDs[j] = int64(enc.Ids[j])
		out.TypeIDs[j] = int64(enc.TypeIds[j])
		if j < len(enc.SpecialTokenMask) && enc.SpecialTokenMask[j] == 1 {
			out.Special.Add(uint32(j))
		}
	}
	return out, nil
}

// readVocab maps each token to its line index. Blank lines still consume an id.
func readVocab(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int, 32000)
	scanner := bufio.NewScanner(f)
	idx := 0
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r")
		if _, seen := vocab[tok]; !seen {
			vocab[tok] = idx
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if idx == 0 {
		return nil, fmt.Errorf("vocab is empty")
	}
	return vocab, nil
}
