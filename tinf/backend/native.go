package backend

import (
	"context"

	"github.com/ZanzyTHEbar/textinfer/tinf/backend/native"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"
	"github.com/ZanzyTHEbar/textinfer/tinf/tensor"
)

type nativeBackend struct {
	name  string
	model *native.Model
}

func newNative(env *Environment, cfg config.ModelConfig) (Backend, error) {
	head := native.SequenceHead
	if cfg.Task == config.TaskTokenClassification {
		head = native.TokenHead
	}
	m, err := native.Load(cfg.ModelPath, head)
	if err != nil {
		return nil, err
	}
	c := m.Config()
	logger := env.Logger()
	logger.Debug().
		Str("model", cfg.ModelPath).
		Stringer("head", head).
		Int("layers", c.NumHiddenLayers).
		Int("hidden", c.HiddenSize).
		Msg("Loaded native transformer")
	return &nativeBackend{name: config.BackendNative + ":" + cfg.ModelPath, model: m}, nil
}

func (n *nativeBackend) Predict(_ context.Context, in *tensor.Inputs) (*tensor.Output, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	mats, err := in.ForArity(n.model.InputArity())
	if err != nil {
		return nil, err
	}
	return n.model.Forward(mats)
}

func (n *nativeBackend) InputArity() int             { return n.model.InputArity() }
func (n *nativeBackend) NumLabels() int              { return n.model.NumLabels() }
func (n *nativeBackend) Name() string                { return n.name }
func (n *nativeBackend) ID2Label() map[string]string { return n.model.ID2Label() }
func (n *nativeBackend) Close() error                { return nil }
