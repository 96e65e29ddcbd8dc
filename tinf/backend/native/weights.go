package native

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/nlpodyssey/safetensors"
	"gonum.org/v1/gonum/mat"
)

// weights resolves BERT parameter names inside a safetensors file. Names are
// looked up with the "bert." prefix when the checkpoint carries one.
type weights struct {
	st     safetensors.SafeTensors
	prefix string
}

func openWeights(path string) (*weights, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st, err := safetensors.Deserialize(buf)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", path, err)
	}
	w := &weights{st: st}
	if _, ok := st.Tensor("bert.embeddings.word_embeddings.weight"); ok {
		w.prefix = "bert."
	}
	return w, nil
}

func (w *weights) has(name string) bool {
	_, ok := w.st.Tensor(name)
	return ok
}

// values decodes the named tensor to float64 and returns its shape.
func (w *weights) values(name string) ([]float64, []uint64, error) {
	view, ok := w.st.Tensor(name)
	if !ok {
		return nil, nil, fmt.Errorf("tensor %q not found", name)
	}
	raw := view.Data()
	var out []float64
	switch view.DType() {
	case safetensors.F32:
		out = make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case safetensors.BF16:
		out = make([]float64, len(raw)/2)
		for i := range out {
			out[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16))
		}
	default:
		return nil, nil, fmt.Errorf("tensor %q: unsupported dtype %v", name, view.DType())
	}
	return out, view.Shape(), nil
}

// matrix loads a [rows, cols] parameter. rows or cols < 0 accept any size.
func (w *weights) matrix(name string, rows, cols int) (*mat.Dense, error) {
	data, shape, err := w.values(name)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("tensor %q: expected rank 2, got shape %v", name, shape)
	}
	r, c := int(shape[0]), int(shape[1])
	if (rows >= 0 && r != rows) || (cols >= 0 && c != cols) {
		return nil, fmt.Errorf("tensor %q: shape %v, want [%d %d]", name, shape, rows, cols)
	}
	return mat.NewDense(r, c, data), nil
}

func (w *weights) vector(name string, n int) ([]float64, error) {
	data, shape, err := w.values(name)
	if err != nil {
		return nil, err
	}
	if len(shape) != 1 || (n >= 0 && int(shape[0]) != n) {
		return nil, fmt.Errorf("tensor %q: shape %v, want [%d]", name, shape, n)
	}
	return data, nil
}

func (w *weights) linear(name string, out, in int) (*linear, error) {
	wt, err := w.matrix(name+".weight", out, in)
	if err != nil {
		return nil, err
	}
	r, _ := wt.Dims()
	b, err := w.vector(name+".bias", r)
	if err != nil {
		return nil, err
	}
	return &linear{w: wt, b: b}, nil
}

// layerNorm accepts both LayerNorm.weight/bias and the older gamma/beta names.
func (w *weights) layerNorm(name string, n int, eps float64) (*layerNorm, error) {
	gName, bName := name+".weight", name+".bias"
	if !w.has(gName) && w.has(name+".gamma") {
		gName, bName = name+".gamma", name+".beta"
	}
	g, err := w.vector(gName, n)
	if err != nil {
		return nil, err
	}
	b, err := w.vector(bName, n)
	if err != nil {
		return nil, err
	}
	return &layerNorm{gamma: g, beta: b, eps: eps}, nil
}
