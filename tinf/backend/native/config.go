package native

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFile and WeightsFile are the artifact names expected in a model directory.
const (
	ConfigFile  = "config.json"
	WeightsFile = "model.safetensors"
)

// Config is the subset of a HuggingFace config.json the encoder needs.
type Config struct {
	ModelType             string            `json:"model_type"`
	VocabSize             int               `json:"vocab_size"`
	HiddenSize            int               `json:"hidden_size"`
	NumHiddenLayers       int               `json:"num_hidden_layers"`
	NumAttentionHeads     int               `json:"num_attention_heads"`
	IntermediateSize      int               `json:"intermediate_size"`
	HiddenAct             string            `json:"hidden_act"`
	LayerNormEps          float64           `json:"layer_norm_eps"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	TypeVocabSize         int               `json:"type_vocab_size"`
	NumLabels             int               `json:"num_labels,omitempty"`
	ID2Label              map[string]string `json:"id2label,omitempty"`
}

// ReadConfig parses dir/config.json and fills defaults.
func ReadConfig(dir string) (Config, error) {
	b, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	if cfg.HiddenAct == "" {
		cfg.HiddenAct = "gelu"
	}
	if cfg.LayerNormEps == 0 {
		cfg.LayerNormEps = 1e-12
	}
	return cfg, nil
}

// Validate checks the dimensions the forward pass relies on.
func (c Config) Validate() error {
	switch c.ModelType {
	case "", "bert":
	default:
		return fmt.Errorf("unsupported model_type %q", c.ModelType)
	}
	if c.HiddenSize <= 0 || c.NumAttentionHeads <= 0 || c.HiddenSize%c.NumAttentionHeads != 0 {
		return fmt.Errorf("hidden_size %d must be a positive multiple of num_attention_heads %d", c.HiddenSize, c.NumAttentionHeads)
	}
	if c.NumHiddenLayers < 0 || c.IntermediateSize <= 0 {
		return fmt.Errorf("invalid layer sizes: layers=%d intermediate=%d", c.NumHiddenLayers, c.IntermediateSize)
	}
	if _, err := activation(c.HiddenAct); err != nil {
		return err
	}
	return nil
}
