package decode

import (
	"strings"

	"github.com/ZanzyTHEbar/textinfer/tinf/tokenizer"
)

// Trim drops the positions of each sequence that hold special tokens or
// padding, keeping only the tags of real text tokens. labels and batch must
// come from the same call.
func Trim(labels [][]string, batch *tokenizer.Batch) [][]string {
	out := make([][]string, len(labels))
	for i, seq := range labels {
		if i >= batch.Size() {
			out[i] = append([]string(nil), seq...)
			continue
		}
		enc := batch.Encodings[i]
		kept := make([]string, 0, enc.Length)
		for j := 0; j < len(seq) && j < enc.Length; j++ {
			if enc.Special != nil && enc.Special.Contains(uint32(j)) {
				continue
			}
			kept = append(kept, seq[j])
		}
		out[i] = kept
	}
	return out
}

// Entity is a contiguous run of tokens sharing one entity type.
type Entity struct {
	Label string
	Text  string
	// Start and End are token positions, End exclusive.
	Start int
	End   int
}

// Entities groups BIO tags of one sequence into entity spans. A B- tag or a
// type change starts a new entity; O, special and padding positions close the
// current one. Continuation word pieces ("##x") are glued to the previous token.
func Entities(tags []string, enc tokenizer.Encoding) []Entity {
	var (
		out   []Entity
		cur   *Entity
		words []string
	)
	marked := usesWordMarkers(enc.Tokens)
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(words, " ")
			out = append(out, *cur)
			cur, words = nil, nil
		}
	}

	for j, tag := range tags {
		if j >= enc.Length || (enc.Special != nil && enc.Special.Contains(uint32(j))) {
			flush()
			continue
		}
		prefix, typ := splitTag(tag)
		if typ == "" {
			flush()
			continue
		}
		if prefix == "B" || cur == nil || cur.Label != typ {
			flush()
			cur = &Entity{Label: typ, Start: j}
		}
		cur.End = j + 1
		words = appendPiece(words, tokenAt(enc, j), marked)
	}
	flush()
	return out
}

func splitTag(tag string) (prefix, typ string) {
	if tag == "" || strings.EqualFold(tag, "O") {
		return "", ""
	}
	if i := strings.IndexAny(tag, "-_"); i == 1 {
		return strings.ToUpper(tag[:1]), tag[2:]
	}
	return "", tag
}

func tokenAt(enc tokenizer.Encoding, j int) string {
	if j < len(enc.Tokens) {
		return enc.Tokens[j]
	}
	return ""
}

// usesWordMarkers reports sentencepiece/byte-level vocabularies, where a
// leading "▁" or "Ġ" starts a word and unmarked pieces continue it.
func usesWordMarkers(tokens []string) bool {
	for _, tok := range tokens {
		if strings.HasPrefix(tok, "▁") || strings.HasPrefix(tok, "Ġ") {
			return true
		}
	}
	return false
}

func appendPiece(words []string, tok string, marked bool) []string {
	switch {
	case strings.HasPrefix(tok, "▁"):
		return append(words, strings.TrimPrefix(tok, "▁"))
	case strings.HasPrefix(tok, "Ġ"):
		return append(words, strings.TrimPrefix(tok, "Ġ"))
	case strings.HasPrefix(tok, "##") && len(words) > 0:
		words[len(words)-1] += tok[2:]
	case marked && len(words) > 0:
		words[len(words)-1] += tok
	default:
		words = append(words, tok)
	}
	return words
}
