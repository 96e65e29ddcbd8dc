//go:build !onnx
// +build !onnx

package backend

import (
	"testing"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"

	"github.com/stretchr/testify/assert"
)

func TestGraphBackendNeedsBuildTag(t *testing.T) {
	_, err := New(testEnv(), config.ModelConfig{Task: config.TaskSequenceClassification, Backend: config.BackendONNX, ModelPath: "m.onnx"})
	assert.ErrorIs(t, err, common.ErrModelLoad)
	assert.ErrorContains(t, err, "-tags onnx")

	env := testEnv()
	assert.ErrorIs(t, env.ensureGraphRuntime(), common.ErrModelLoad)
	assert.NoError(t, env.Close())
}
