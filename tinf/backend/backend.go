// Package backend runs model graphs over built input tensors. Two variants
// exist: the in-process native transformer and the ONNX Runtime graph runtime
// (compiled in with -tags onnx).
package backend

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"
	"github.com/ZanzyTHEbar/textinfer/tinf/tensor"

	"golang.org/x/sync/semaphore"
)

// Backend executes a loaded model. Implementations are read-only after
// construction and safe for concurrent Predict calls.
type Backend interface {
	// Predict runs the model over in and returns its first float output.
	Predict(ctx context.Context, in *tensor.Inputs) (*tensor.Output, error)
	// InputArity is the number of inputs the model declares (2 or 3).
	InputArity() int
	// NumLabels is the width of the output's last axis, or 0 when unknown.
	NumLabels() int
	Name() string
	Close() error
}

// LabelSource is implemented by backends whose artifacts carry an id2label table.
type LabelSource interface {
	ID2Label() map[string]string
}

// New builds the backend variant named by cfg.Backend. An empty name selects
// the graph runtime. Construction failures are common.ErrModelLoad errors.
func New(env *Environment, cfg config.ModelConfig) (Backend, error) {
	if env == nil {
		return nil, common.Errorf(common.ErrModelLoad, "backend needs an environment")
	}
	var (
		be  Backend
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case config.BackendNative:
		be, err = newNative(env, cfg)
	case config.BackendONNX, "":
		be, err = newGraph(env, cfg)
	default:
		return nil, common.Errorf(common.ErrModelLoad, "unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if be.InputArity() < 2 {
		_ = be.Close()
		return nil, common.Errorf(common.ErrModelLoad, "%s declares %d inputs, need at least 2", be.Name(), be.InputArity())
	}

	logger := env.Logger()
	logger.Info().
		Str("backend", be.Name()).
		Int("arity", be.InputArity()).
		Int("labels", be.NumLabels()).
		Int("maxConcurrent", cfg.MaxConcurrent).
		Msg("Backend ready")

	if cfg.MaxConcurrent > 0 {
		be = limit(be, cfg.MaxConcurrent)
	}
	return be, nil
}

// limited bounds the number of Predict calls in flight.
type limited struct {
	Backend
	sem *semaphore.Weighted
}

func limit(be Backend, n int) *limited {
	return &limited{Backend: be, sem: semaphore.NewWeighted(int64(n))}
}

// Predict waits for a slot; ctx is observed only while waiting.
func (l *limited) Predict(ctx context.Context, in *tensor.Inputs) (*tensor.Output, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, common.Wrap(common.ErrInference, err, "wait for %s", l.Name())
	}
	defer l.sem.Release(1)
	return l.Backend.Predict(ctx, in)
}

func (l *limited) ID2Label() map[string]string {
	if src, ok := l.Backend.(LabelSource); ok {
		return src.ID2Label()
	}
	return nil
}
