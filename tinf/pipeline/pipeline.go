// Package pipeline wires encoder, tensor builder, backend and decoder into a
// synchronous predict call: text in, probabilities or tags out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/textinfer/tinf/backend"
	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"
	"github.com/ZanzyTHEbar/textinfer/tinf/decode"
	"github.com/ZanzyTHEbar/textinfer/tinf/tensor"
	"github.com/ZanzyTHEbar/textinfer/tinf/tokenizer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrWrongTask is returned when a method does not match the configured task.
var ErrWrongTask = errors.New("wrong task for pipeline")

// Pipeline is one loaded model. It is safe for concurrent use; every call
// runs to completion or fails as a whole.
type Pipeline struct {
	name    string
	task    string
	enc     tokenizer.Encoder
	be      backend.Backend
	labels  decode.LabelMap
	tb      decode.TieBreak
	logger  zerolog.Logger
	metrics *Metrics
}

// Tagged is a token classification result together with the batch it was
// decoded from.
type Tagged struct {
	// Labels is [batch][max_len], padding and special positions included.
	Labels [][]string
	Batch  *tokenizer.Batch
}

// Trimmed drops special and padding positions from Labels.
func (t *Tagged) Trimmed() [][]string { return decode.Trim(t.Labels, t.Batch) }

// Entities groups each sequence's tags into entity spans.
func (t *Tagged) Entities() [][]decode.Entity {
	out := make([][]decode.Entity, len(t.Labels))
	for i, tags := range t.Labels {
		out[i] = decode.Entities(tags, t.Batch.Encodings[i])
	}
	return out
}

// New loads the tokenizer and backend named by cfg. The tokenizer identifier
// defaults to the model directory (or the directory holding the model file).
func New(env *backend.Environment, name string, cfg config.ModelConfig) (*Pipeline, error) {
	if env == nil {
		return nil, common.Errorf(common.ErrModelLoad, "pipeline %s needs an environment", name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "model %s", name)
	}
	tb, err := decode.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "model %s", name)
	}

	rt := env.Runtime()
	enc, err := tokenizer.Load(tokenizerIdentifier(cfg), tokenizer.Options{
		MaxLength:       cfg.MaxLength,
		PadToMultipleOf: cfg.PadToMultipleOf,
		Lowercase:       cfg.Lowercase,
		AllowDownload:   rt.AllowDownload,
		SearchDirs:      rt.SearchDirs,
	})
	if err != nil {
		return nil, err
	}

	be, err := backend.New(env, cfg)
	if err != nil {
		return nil, err
	}
	labels, err := resolveLabels(cfg, be)
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	p, err := NewWith(name, cfg.Task, enc, be, labels, tb, env.Logger())
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	return p, nil
}

func tokenizerIdentifier(cfg config.ModelConfig) string {
	if cfg.Tokenizer != "" {
		return cfg.Tokenizer
	}
	if fi, err := os.Stat(cfg.ModelPath); err == nil && fi.IsDir() {
		return cfg.ModelPath
	}
	return filepath.Dir(cfg.ModelPath)
}

// resolveLabels prefers configured labels, then the artifact's id2label, then
// the CoNLL-03 tag set for token classification.
func resolveLabels(cfg config.ModelConfig, be backend.Backend) (decode.LabelMap, error) {
	if len(cfg.Labels) > 0 {
		return decode.NewLabelMap(cfg.Labels), nil
	}
	if src, ok := be.(backend.LabelSource); ok {
		if id2label := src.ID2Label(); len(id2label) > 0 {
			return decode.FromID2Label(id2label)
		}
	}
	if cfg.Task == config.TaskTokenClassification {
		return decode.NewLabelMap(config.CoNLL03Labels), nil
	}
	return decode.LabelMap{}, nil
}

// NewWith assembles a pipeline from already built parts. Token classification
// needs a label map covering every backend output id.
func NewWith(name, task string, enc tokenizer.Encoder, be backend.Backend, labels decode.LabelMap, tb decode.TieBreak, logger zerolog.Logger) (*Pipeline, error) {
	switch task {
	case config.TaskSequenceClassification, config.TaskTokenClassification:
	default:
		return nil, fmt.Errorf("%w: unknown task %q", ErrWrongTask, task)
	}
	if enc == nil || be == nil {
		return nil, common.Errorf(common.ErrModelLoad, "pipeline %s needs an encoder and a backend", name)
	}
	if task == config.TaskTokenClassification && labels.Len() == 0 {
		return nil, common.Errorf(common.ErrLabelMap, "pipeline %s has no labels", name)
	}
	if n := be.NumLabels(); n > 0 && labels.Len() > 0 && !labels.Covers(n) {
		return nil, common.Errorf(common.ErrLabelMap, "pipeline %s: %d labels do not cover %d model outputs", name, labels.Len(), n)
	}
	return &Pipeline{
		name:    name,
		task:    task,
		enc:     enc,
		be:      be,
		labels:  labels,
		tb:      tb,
		logger:  logger.With().Str("component", "pipeline").Str("model", name).Logger(),
		metrics: &Metrics{},
	}, nil
}

// Name returns the configured model name.
func (p *Pipeline) Name() string { return p.name }

// Task returns the configured task.
func (p *Pipeline) Task() string { return p.task }

// Labels returns the tag or class names ordered by id, if known.
func (p *Pipeline) Labels() []string { return p.labels.Labels() }

// Metrics returns a snapshot of the call counters.
func (p *Pipeline) Metrics() map[string]interface{} { return p.metrics.GetMetrics() }

// Close releases the backend.
func (p *Pipeline) Close() error { return p.be.Close() }

// Classify returns one softmax probability row per input text, in input order.
func (p *Pipeline) Classify(ctx context.Context, texts []string) (probs [][]float32, err error) {
	if err := p.expect(config.TaskSequenceClassification); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	defer func() { p.metrics.Update(start, len(texts), err == nil) }()

	out, _, err := p.run(ctx, "classify", texts)
	if err != nil {
		return nil, err
	}
	logits, err := out.Rows2()
	if err != nil {
		return nil, err
	}
	if len(logits) != len(texts) {
		return nil, common.Errorf(common.ErrShapeMismatch, "output batch %d for %d inputs", len(logits), len(texts))
	}
	return decode.Softmax(logits), nil
}

// Tag returns the [batch][max_len] label grid. Padding and special positions
// are decoded like any other; see TagBatch for trimming.
func (p *Pipeline) Tag(ctx context.Context, texts []string) ([][]string, error) {
	tagged, err := p.TagBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return tagged.Labels, nil
}

// Entities tags texts and groups the tags into entity spans per sequence.
func (p *Pipeline) Entities(ctx context.Context, texts []string) ([][]decode.Entity, error) {
	tagged, err := p.TagBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return tagged.Entities(), nil
}

// TagBatch is Tag returning the encoded batch alongside the labels.
func (p *Pipeline) TagBatch(ctx context.Context, texts []string) (tagged *Tagged, err error) {
	if err := p.expect(config.TaskTokenClassification); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return &Tagged{Labels: [][]string{}, Batch: &tokenizer.Batch{}}, nil
	}
	start := time.Now()
	defer func() { p.metrics.Update(start, len(texts), err == nil) }()

	out, batch, err := p.run(ctx, "tag", texts)
	if err != nil {
		return nil, err
	}
	logits, err := out.Rows3()
	if err != nil {
		return nil, err
	}
	if len(logits) != len(texts) {
		return nil, common.Errorf(common.ErrShapeMismatch, "output batch %d for %d inputs", len(logits), len(texts))
	}
	if len(logits[0]) != batch.MaxLen {
		return nil, common.Errorf(common.ErrShapeMismatch, "output sequence length %d, inputs padded to %d", len(logits[0]), batch.MaxLen)
	}
	labels, err := decode.Tokens(logits, p.labels, p.tb)
	if err != nil {
		return nil, err
	}
	return &Tagged{Labels: labels, Batch: batch}, nil
}

func (p *Pipeline) expect(task string) error {
	if p.task != task {
		return fmt.Errorf("%w: %s is configured for %s", ErrWrongTask, p.name, p.task)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, op string, texts []string) (*tensor.Output, *tokenizer.Batch, error) {
	log := p.logger.With().Str("call", uuid.NewString()).Str("op", op).Logger()
	start := time.Now()

	batch, err := p.enc.Encode(texts)
	if err != nil {
		log.Debug().Err(err).Msg("Encoding failed")
		return nil, nil, err
	}
	if batch.Size() != len(texts) {
		return nil, nil, common.Errorf(common.ErrShapeMismatch, "encoder returned %d encodings for %d inputs", batch.Size(), len(texts))
	}
	in, err := tensor.Build(batch)
	if err != nil {
		return nil, nil, err
	}
	out, err := p.be.Predict(ctx, in)
	if err != nil {
		log.Debug().Err(err).Msg("Prediction failed")
		return nil, nil, err
	}

	log.Debug().
		Int("sequences", len(texts)).
		Int("maxLen", batch.MaxLen).
		Ints64("outputShape", out.Shape).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction complete")
	return out, batch, nil
}
