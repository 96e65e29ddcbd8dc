package native

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
)

// rawTensor is a float32 tensor waiting to be serialized.
type rawTensor struct {
	shape []int
	data  []float32
}

// WriteRandom writes config.json and a model.safetensors of Xavier-initialised
// weights for cfg into dir. The same seed always produces the same model.
// Setting cfg.TypeVocabSize to 0 omits token-type embeddings, giving a
// two-input model.
func WriteRandom(dir string, cfg Config, head Head, seed int64) error {
	if cfg.HiddenAct == "" {
		cfg.HiddenAct = "gelu"
	}
	if cfg.LayerNormEps == 0 {
		cfg.LayerNormEps = 1e-12
	}
	if cfg.ModelType == "" {
		cfg.ModelType = "bert"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.NumLabels <= 0 {
		return fmt.Errorf("num_labels must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), b, 0o644); err != nil {
		return err
	}
	tensors := randomTensors(cfg, head, rand.New(rand.NewSource(seed)), "bert.")
	return writeSafetensors(filepath.Join(dir, WeightsFile), tensors)
}

func randomTensors(cfg Config, head Head, rng *rand.Rand, prefix string) map[string]rawTensor {
	h, inter := cfg.HiddenSize, cfg.IntermediateSize
	out := make(map[string]rawTensor)
	dense := func(name string, rows, cols int) {
		limit := math.Sqrt(6 / float64(rows+cols))
		w := make([]float32, rows*cols)
		for i := range w {
			w[i] = float32((rng.Float64()*2 - 1) * limit)
		}
		out[name+".weight"] = rawTensor{shape: []int{rows, cols}, data: w}
		out[name+".bias"] = rawTensor{shape: []int{rows}, data: make([]float32, rows)}
	}
	embedding := func(name string, rows int) {
		w := make([]float32, rows*h)
		for i := range w {
			w[i] = float32(rng.NormFloat64() * 0.02)
		}
		out[name] = rawTensor{shape: []int{rows, h}, data: w}
	}
	norm := func(name string) {
		g := make([]float32, h)
		for i := range g {
			g[i] = 1
		}
		out[name+".weight"] = rawTensor{shape: []int{h}, data: g}
		out[name+".bias"] = rawTensor{shape: []int{h}, data: make([]float32, h)}
	}

	embedding(prefix+"embeddings.word_embeddings.weight", cfg.VocabSize)
	embedding(prefix+"embeddings.position_embeddings.weight", cfg.MaxPositionEmbeddings)
	if cfg.TypeVocabSize > 0 {
		embedding(prefix+"embeddings.token_type_embeddings.weight", cfg.TypeVocabSize)
	}
	norm(prefix + "embeddings.LayerNorm")
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		l := fmt.Sprintf("%sencoder.layer.%d.", prefix, i)
		dense(l+"attention.self.query", h, h)
		dense(l+"attention.self.key", h, h)
		dense(l+"attention.self.value", h, h)
		dense(l+"attention.output.dense", h, h)
		norm(l + "attention.output.LayerNorm")
		dense(l+"intermediate.dense", inter, h)
		dense(l+"output.dense", h, inter)
		norm(l + "output.LayerNorm")
	}
	if head == SequenceHead {
		dense(prefix+"pooler.dense", h, h)
	}
	dense("classifier", cfg.NumLabels, h)
	return out
}

type headerEntry struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// writeSafetensors lays tensors out in name order: an 8-byte little-endian
// header length, the JSON header padded with spaces to 8 bytes, then the data.
func writeSafetensors(path string, tensors map[string]rawTensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	header["__metadata__"] = map[string]string{"format": "pt"}
	offset := 0
	for _, name := range names {
		n := len(tensors[name].data) * 4
		header[name] = headerEntry{DType: "F32", Shape: tensors[name].shape, DataOffsets: [2]int{offset, offset + n}}
		offset += n
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return err
	}
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}

	buf := make([]byte, 8, 8+len(hb)+offset)
	binary.LittleEndian.PutUint64(buf, uint64(len(hb)))
	buf = append(buf, hb...)
	for _, name := range names {
		for _, v := range tensors[name].data {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return os.WriteFile(path, buf, 0o644)
}
