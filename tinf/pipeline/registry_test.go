package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/textinfer/tinf/backend/native"
	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOpen(t *testing.T) {
	ner := writeNativeModel(t, native.TokenHead, config.CoNLL03Labels)
	sentiment := writeNativeModel(t, native.SequenceHead, []string{"negative", "positive"})

	r, err := Open(&config.Config{
		Runtime: config.RuntimeConfig{LogLevel: "error"},
		Models: map[string]config.ModelConfig{
			"ner":       {Task: config.TaskTokenClassification, Backend: config.BackendNative, ModelPath: ner, Lowercase: true},
			"sentiment": {Task: config.TaskSequenceClassification, Backend: config.BackendNative, ModelPath: sentiment, Lowercase: true},
		},
	})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"ner", "sentiment"}, r.Names())

	p, err := r.Get("Sentiment")
	require.NoError(t, err)
	probs, err := p.Classify(context.Background(), []string{"you are awesome"})
	require.NoError(t, err)
	assert.Len(t, probs, 1)

	_, err = r.Get("summarizer")
	assert.Error(t, err)

	require.NoError(t, r.Close())
	assert.Empty(t, r.Names())
}

func TestRegistryOpenFailsAsAWhole(t *testing.T) {
	ner := writeNativeModel(t, native.TokenHead, config.CoNLL03Labels)

	_, err := Open(&config.Config{
		Runtime: config.RuntimeConfig{LogLevel: "error"},
		Models: map[string]config.ModelConfig{
			"a": {Task: config.TaskTokenClassification, Backend: config.BackendNative, ModelPath: ner},
			"b": {Task: config.TaskTokenClassification, Backend: config.BackendNative, ModelPath: filepath.Join(t.TempDir(), "gone"), Tokenizer: ner},
		},
	})
	assert.ErrorIs(t, err, common.ErrModelLoad)
	assert.ErrorContains(t, err, `model "b"`)

	_, err = Open(nil)
	assert.Error(t, err)
}

func TestRegistryFoldsModelNameCase(t *testing.T) {
	ner := writeNativeModel(t, native.TokenHead, config.CoNLL03Labels)
	model := config.ModelConfig{Task: config.TaskTokenClassification, Backend: config.BackendNative, ModelPath: ner, Lowercase: true}

	r, err := Open(&config.Config{
		Runtime: config.RuntimeConfig{LogLevel: "error"},
		Models:  map[string]config.ModelConfig{"NER": model},
	})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"ner"}, r.Names())
	for _, name := range []string{"ner", "NER", "Ner"} {
		p, err := r.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, "ner", p.Name())
	}

	_, err = Open(&config.Config{
		Runtime: config.RuntimeConfig{LogLevel: "error"},
		Models:  map[string]config.ModelConfig{"NER": model, "ner": model},
	})
	assert.ErrorContains(t, err, "collides")
}

func TestRegistryOpensUserOnlyConfigFile(t *testing.T) {
	dir := writeNativeModel(t, native.TokenHead, config.CoNLL03Labels)
	content := `
runtime:
  logLevel: error
models:
  tiny:
    task: token_classification
    backend: native
    modelPath: ` + dir + `
    lowercase: true
`
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	cfg, err := config.LoadConfig(file)
	require.NoError(t, err)

	r, err := Open(cfg)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"tiny"}, r.Names())
	p, err := r.Get("tiny")
	require.NoError(t, err)
	tags, err := p.Tag(context.Background(), []string{"john lives in paris"})
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}
