//go:build !onnx
// +build !onnx

package backend

import (
	"errors"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"
)

var errGraphRuntimeUnavailable = errors.New("onnx support not built in; rebuild with -tags onnx")

func initGraphRuntime(config.RuntimeConfig) (bool, error) { return false, errGraphRuntimeUnavailable }

func destroyGraphRuntime() error { return nil }

// newGraph is a stub used when built without the "onnx" build tag.
func newGraph(_ *Environment, cfg config.ModelConfig) (Backend, error) {
	return nil, common.Wrap(common.ErrModelLoad, errGraphRuntimeUnavailable, "model %s", cfg.ModelPath)
}
