package common

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsKindAndCause(t *testing.T) {
	err := Wrap(ErrModelLoad, os.ErrNotExist, "open %s", "model.onnx")

	assert.ErrorIs(t, err, ErrModelLoad)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "open model.onnx")
	assert.Equal(t, ErrModelLoad, KindOf(err))
}

func TestErrorfWithoutCause(t *testing.T) {
	err := Errorf(ErrLabelMap, "id %d has no label", 9)

	assert.ErrorIs(t, err, ErrLabelMap)
	assert.EqualError(t, err, "label map error: id 9 has no label")
}

func TestKindOfUnknown(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("plain")))
	assert.Nil(t, KindOf(nil))
}
