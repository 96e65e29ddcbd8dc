package native

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maskedBias is added to attention scores of padding positions.
const maskedBias = -1e9

// linear is y = x·Wᵀ + b with W stored [out, in] as in the checkpoint.
type linear struct {
	w *mat.Dense
	b []float64
}

func (l *linear) outDim() int {
	r, _ := l.w.Dims()
	return r
}

func (l *linear) forward(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	y := mat.NewDense(rows, l.outDim(), nil)
	y.Mul(x, l.w.T())
	for i := 0; i < rows; i++ {
		floats.Add(y.RawRowView(i), l.b)
	}
	return y
}

type layerNorm struct {
	gamma, beta []float64
	eps         float64
}

// apply normalizes every row of x in place.
func (n *layerNorm) apply(x *mat.Dense) {
	rows, cols := x.Dims()
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		mean := floats.Sum(row) / float64(cols)
		floats.AddConst(-mean, row)
		variance := floats.Dot(row, row) / float64(cols)
		floats.Scale(1/math.Sqrt(variance+n.eps), row)
		floats.Mul(row, n.gamma)
		floats.Add(row, n.beta)
	}
}

func activation(name string) (func(float64) float64, error) {
	switch name {
	case "gelu":
		return func(v float64) float64 { return 0.5 * v * (1 + math.Erf(v/math.Sqrt2)) }, nil
	case "gelu_new", "gelu_pytorch_tanh":
		c := math.Sqrt(2 / math.Pi)
		return func(v float64) float64 { return 0.5 * v * (1 + math.Tanh(c*(v+0.044715*v*v*v))) }, nil
	case "relu":
		return func(v float64) float64 { return math.Max(0, v) }, nil
	}
	return nil, fmt.Errorf("unsupported hidden_act %q", name)
}

type selfAttention struct {
	query, key, value *linear
	output            *linear
	norm              *layerNorm
	heads             int
}

// forward returns LayerNorm(x + Attention(x)). bias holds one additive term
// per key position.
func (a *selfAttention) forward(x *mat.Dense, bias []float64) *mat.Dense {
	seq, hidden := x.Dims()
	headDim := hidden / a.heads
	scale := 1 / math.Sqrt(float64(headDim))

	q, k, v := a.query.forward(x), a.key.forward(x), a.value.forward(x)
	context := mat.NewDense(seq, hidden, nil)
	scores := mat.NewDense(seq, seq, nil)
	for h := 0; h < a.heads; h++ {
		lo, hi := h*headDim, (h+1)*headDim
		scores.Mul(q.Slice(0, seq, lo, hi), k.Slice(0, seq, lo, hi).T())
		for i := 0; i < seq; i++ {
			row := scores.RawRowView(i)
			floats.Scale(scale, row)
			floats.Add(row, bias)
			softmaxInPlace(row)
		}
		context.Slice(0, seq, lo, hi).(*mat.Dense).Mul(scores, v.Slice(0, seq, lo, hi))
	}

	out := a.output.forward(context)
	out.Add(out, x)
	a.norm.apply(out)
	return out
}

type encoderLayer struct {
	attention    *selfAttention
	intermediate *linear
	output       *linear
	norm         *layerNorm
	act          func(float64) float64
}

func (l *encoderLayer) forward(x *mat.Dense, bias []float64) *mat.Dense {
	attended := l.attention.forward(x, bias)
	inner := l.intermediate.forward(attended)
	inner.Apply(func(_, _ int, v float64) float64 { return l.act(v) }, inner)
	out := l.output.forward(inner)
	out.Add(out, attended)
	l.norm.apply(out)
	return out
}

func softmaxInPlace(row []float64) {
	if len(row) == 0 {
		return
	}
	floats.AddConst(-floats.Max(row), row)
	for i, v := range row {
		row[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(row), row)
}
