// Package native runs BERT-style encoders in process with gonum. A model
// directory holds a HuggingFace config.json and a model.safetensors file.
package native

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/tensor"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Head selects the task layer on top of the encoder.
type Head int

const (
	// SequenceHead pools [CLS] through a tanh dense layer and classifies it.
	SequenceHead Head = iota
	// TokenHead classifies every position.
	TokenHead
)

func (h Head) String() string {
	if h == TokenHead {
		return "token"
	}
	return "sequence"
}

// Model is an immutable BERT encoder plus classification head. Forward
// allocates all intermediate state, so a Model is safe for concurrent use.
type Model struct {
	cfg  Config
	head Head

	wordEmb  *mat.Dense
	posEmb   *mat.Dense
	typeEmb  *mat.Dense
	embNorm  *layerNorm
	layers   []*encoderLayer
	pooler   *linear
	classify *linear
}

// Load reads config.json and model.safetensors from dir. Every failure is a
// common.ErrModelLoad error.
func Load(dir string, head Head) (*Model, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "model directory %s", dir)
	}
	if !fi.IsDir() {
		return nil, common.Errorf(common.ErrModelLoad, "%s is not a model directory", dir)
	}
	cfg, err := ReadConfig(dir)
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "read config in %s", dir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "config in %s", dir)
	}
	w, err := openWeights(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "open weights in %s", dir)
	}
	m, err := build(cfg, head, w)
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "load weights from %s", dir)
	}
	return m, nil
}

func build(cfg Config, head Head, w *weights) (*Model, error) {
	h, p := cfg.HiddenSize, w.prefix
	act, err := activation(cfg.HiddenAct)
	if err != nil {
		return nil, err
	}
	m := &Model{cfg: cfg, head: head}

	if m.wordEmb, err = w.matrix(p+"embeddings.word_embeddings.weight", -1, h); err != nil {
		return nil, err
	}
	if m.posEmb, err = w.matrix(p+"embeddings.position_embeddings.weight", -1, h); err != nil {
		return nil, err
	}
	if name := p + "embeddings.token_type_embeddings.weight"; w.has(name) {
		if m.typeEmb, err = w.matrix(name, -1, h); err != nil {
			return nil, err
		}
	}
	if m.embNorm, err = w.layerNorm(p+"embeddings.LayerNorm", h, cfg.LayerNormEps); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.NumHiddenLayers; i++ {
		l, err := buildLayer(w, fmt.Sprintf("%sencoder.layer.%d.", p, i), cfg, act)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers = append(m.layers, l)
	}

	if head == SequenceHead {
		if m.pooler, err = w.linear(p+"pooler.dense", h, h); err != nil {
			return nil, fmt.Errorf("sequence head needs a pooler: %w", err)
		}
	}
	if m.classify, err = w.linear("classifier", -1, h); err != nil {
		return nil, err
	}
	if cfg.NumLabels > 0 && cfg.NumLabels != m.classify.outDim() {
		return nil, fmt.Errorf("num_labels %d but classifier has %d outputs", cfg.NumLabels, m.classify.outDim())
	}
	return m, nil
}

func buildLayer(w *weights, prefix string, cfg Config, act func(float64) float64) (*encoderLayer, error) {
	h, inter, eps := cfg.HiddenSize, cfg.IntermediateSize, cfg.LayerNormEps
	var err error
	att := &selfAttention{heads: cfg.NumAttentionHeads}
	if att.query, err = w.linear(prefix+"attention.self.query", h, h); err != nil {
		return nil, err
	}
	if att.key, err = w.linear(prefix+"attention.self.key", h, h); err != nil {
		return nil, err
	}
	if att.value, err = w.linear(prefix+"attention.self.value", h, h); err != nil {
		return nil, err
	}
	if att.output, err = w.linear(prefix+"attention.output.dense", h, h); err != nil {
		return nil, err
	}
	if att.norm, err = w.layerNorm(prefix+"attention.output.LayerNorm", h, eps); err != nil {
		return nil, err
	}

	l := &encoderLayer{attention: att, act: act}
	if l.intermediate, err = w.linear(prefix+"intermediate.dense", inter, h); err != nil {
		return nil, err
	}
	if l.output, err = w.linear(prefix+"output.dense", h, inter); err != nil {
		return nil, err
	}
	if l.norm, err = w.layerNorm(prefix+"output.LayerNorm", h, eps); err != nil {
		return nil, err
	}
	return l, nil
}

// Config returns the parsed config.json.
func (m *Model) Config() Config { return m.cfg }

// Head returns the task head the model was loaded with.
func (m *Model) Head() Head { return m.head }

// InputArity is 3 when the checkpoint carries token-type embeddings, else 2.
func (m *Model) InputArity() int {
	if m.typeEmb != nil {
		return 3
	}
	return 2
}

// NumLabels returns the classifier width.
func (m *Model) NumLabels() int { return m.classify.outDim() }

// ID2Label returns the config.json label table, or nil.
func (m *Model) ID2Label() map[string]string { return m.cfg.ID2Label }

// Forward runs the batch given as ids, mask and optionally type ids. Output is
// [batch, labels] for SequenceHead and [batch, seq_len, labels] for TokenHead.
// Ids outside the vocabulary or sequences longer than the position table are
// common.ErrInference errors.
func (m *Model) Forward(inputs []tensor.Matrix) (*tensor.Output, error) {
	if len(inputs) < 2 {
		return nil, common.Errorf(common.ErrShapeMismatch, "native model needs at least 2 inputs, got %d", len(inputs))
	}
	ids, mask := inputs[0], inputs[1]
	if mask.Rows != ids.Rows || mask.Cols != ids.Cols {
		return nil, common.Errorf(common.ErrShapeMismatch, "ids %v vs mask %v", ids.Shape(), mask.Shape())
	}
	var types *tensor.Matrix
	if len(inputs) > 2 && m.typeEmb != nil {
		types = &inputs[2]
		if types.Rows != ids.Rows || types.Cols != ids.Cols {
			return nil, common.Errorf(common.ErrShapeMismatch, "ids %v vs type ids %v", ids.Shape(), types.Shape())
		}
	}

	batch, seq, labels := ids.Rows, ids.Cols, m.NumLabels()
	out := &tensor.Output{}
	if m.head == SequenceHead {
		out.Shape = []int64{int64(batch), int64(labels)}
	} else {
		out.Shape = []int64{int64(batch), int64(seq), int64(labels)}
	}
	out.Data = make([]float32, 0, batch*labels*seqFactor(m.head, seq))

	for i := 0; i < batch; i++ {
		var typeRow []int64
		if types != nil {
			typeRow = types.Row(i)
		}
		logits, err := m.sequence(ids.Row(i), mask.Row(i), typeRow)
		if err != nil {
			return nil, common.Wrap(common.ErrInference, err, "sequence %d", i)
		}
		out.Data = appendFloat32(out.Data, logits)
	}
	return out, nil
}

func seqFactor(h Head, seq int) int {
	if h == TokenHead {
		return seq
	}
	return 1
}

// sequence runs one row and returns its logits as a [rows, labels] matrix.
func (m *Model) sequence(ids, mask, types []int64) (*mat.Dense, error) {
	x, err := m.embed(ids, types)
	if err != nil {
		return nil, err
	}
	bias := make([]float64, len(mask))
	for j, v := range mask {
		if v == 0 {
			bias[j] = maskedBias
		}
	}
	for _, l := range m.layers {
		x = l.forward(x, bias)
	}

	if m.head == TokenHead {
		return m.classify.forward(x), nil
	}
	_, hidden := x.Dims()
	cls := mat.NewDense(1, hidden, append([]float64(nil), x.RawRowView(0)...))
	pooled := m.pooler.forward(cls)
	pooled.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, pooled)
	return m.classify.forward(pooled), nil
}

func (m *Model) embed(ids, types []int64) (*mat.Dense, error) {
	vocab, hidden := m.wordEmb.Dims()
	positions, _ := m.posEmb.Dims()
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty sequence")
	}
	if len(ids) > positions {
		return nil, fmt.Errorf("sequence length %d exceeds %d position embeddings", len(ids), positions)
	}
	typeVocab := 0
	if m.typeEmb != nil {
		typeVocab, _ = m.typeEmb.Dims()
	}

	x := mat.NewDense(len(ids), hidden, nil)
	for j, id := range ids {
		if id < 0 || int(id) >= vocab {
			return nil, fmt.Errorf("token id %d at position %d outside vocabulary of %d", id, j, vocab)
		}
		row := x.RawRowView(j)
		copy(row, m.wordEmb.RawRowView(int(id)))
		floats.Add(row, m.posEmb.RawRowView(j))
		if m.typeEmb != nil {
			tid := int64(0)
			if types != nil {
				tid = types[j]
			}
			if tid < 0 || int(tid) >= typeVocab {
				return nil, fmt.Errorf("token type %d at position %d outside %d types", tid, j, typeVocab)
			}
			floats.Add(row, m.typeEmb.RawRowView(int(tid)))
		}
	}
	m.embNorm.apply(x)
	return x, nil
}

func appendFloat32(dst []float32, m *mat.Dense) []float32 {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		for _, v := range m.RawRowView(i) {
			dst = append(dst, float32(v))
		}
	}
	return dst
}
