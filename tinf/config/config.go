package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/textinfer/tinf"

	"github.com/spf13/viper"
)

// Task names accepted in ModelConfig.Task.
const (
	TaskSequenceClassification = "sequence_classification"
	TaskTokenClassification    = "token_classification"
)

// Backend names accepted in ModelConfig.Backend.
const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Tie-break policies accepted in ModelConfig.TieBreak.
const (
	TieBreakLast  = "last"
	TieBreakFirst = "first"
)

// CoNLL03Labels is the id-ordered tag set of the default NER model.
var CoNLL03Labels = []string{"B-LOC", "B-MISC", "B-ORG", "I-LOC", "I-MISC", "I-ORG", "I-PER", "O"}

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Runtime RuntimeConfig          `mapstructure:"runtime"`
	Models  map[string]ModelConfig `mapstructure:"models"`
}

// RuntimeConfig holds process-wide settings shared by every backend.
type RuntimeConfig struct {
	SharedLibraryPath string `mapstructure:"sharedLibraryPath"`
	// GraphOptimization is one of "disable", "basic", "extended", "all".
	GraphOptimization string `mapstructure:"graphOptimization"`
	IntraOpThreads    int    `mapstructure:"intraOpThreads"`
	InterOpThreads    int    `mapstructure:"interOpThreads"`
	// ExecutionProvider is one of "cpu", "cuda", "tensorrt", "coreml", "dml".
	ExecutionProvider string   `mapstructure:"executionProvider"`
	DeviceID          int      `mapstructure:"deviceID"`
	LogLevel          string   `mapstructure:"logLevel"`
	AllowDownload     bool     `mapstructure:"allowDownload"`
	SearchDirs        []string `mapstructure:"searchDirs"`
}

// ModelConfig describes one model: where its artifacts live, which backend
// runs it and how its output is decoded.
type ModelConfig struct {
	Task            string   `mapstructure:"task"`
	Backend         string   `mapstructure:"backend"`
	ModelPath       string   `mapstructure:"modelPath"`
	Tokenizer       string   `mapstructure:"tokenizer"`
	Labels          []string `mapstructure:"labels"`
	TieBreak        string   `mapstructure:"tieBreak"`
	MaxLength       int      `mapstructure:"maxLength"`
	PadToMultipleOf int      `mapstructure:"padToMultipleOf"`
	Lowercase       bool     `mapstructure:"lowercase"`
	MaxConcurrent   int      `mapstructure:"maxConcurrent"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("runtime.sharedLibraryPath", "ONNXRUNTIME_SHARED_LIBRARY_PATH")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	// The built-in models apply only when no models are configured
	if !v.IsSet("models") {
		setDefaultModels(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Runtime.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	for name, m := range cfg.Models {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
	}

	AppConfig = cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.graphOptimization", "basic")
	v.SetDefault("runtime.executionProvider", "cpu")
	v.SetDefault("runtime.logLevel", internal.DefaultLogLevel)
	v.SetDefault("runtime.allowDownload", false)
	v.SetDefault("runtime.searchDirs", []string{internal.DefaultResourcesDir, internal.DefaultCacheDir})
}

func setDefaultModels(v *viper.Viper) {
	v.SetDefault("models.sentiment.task", TaskSequenceClassification)
	v.SetDefault("models.sentiment.backend", BackendONNX)
	v.SetDefault("models.sentiment.modelPath", internal.DefaultSentimentModel)
	v.SetDefault("models.sentiment.tokenizer", internal.DefaultSentimentTokenizer)
	v.SetDefault("models.sentiment.padToMultipleOf", internal.DefaultPadMultipleOf)
	v.SetDefault("models.sentiment.lowercase", true)
	v.SetDefault("models.sentiment.tieBreak", TieBreakLast)

	v.SetDefault("models.ner.task", TaskTokenClassification)
	v.SetDefault("models.ner.backend", BackendONNX)
	v.SetDefault("models.ner.modelPath", internal.DefaultNERModel)
	v.SetDefault("models.ner.tokenizer", internal.DefaultNERTokenizer)
	v.SetDefault("models.ner.labels", CoNLL03Labels)
	v.SetDefault("models.ner.padToMultipleOf", internal.DefaultPadMultipleOf)
	v.SetDefault("models.ner.tieBreak", TieBreakLast)
}

// Validate checks the enumerated runtime fields. Empty values select defaults.
func (r RuntimeConfig) Validate() error {
	switch strings.ToLower(r.GraphOptimization) {
	case "", "disable", "basic", "extended", "all":
	default:
		return fmt.Errorf("unknown graph optimization %q", r.GraphOptimization)
	}
	switch strings.ToLower(r.ExecutionProvider) {
	case "", "cpu", "cuda", "tensorrt", "coreml", "dml":
	default:
		return fmt.Errorf("unknown execution provider %q", r.ExecutionProvider)
	}
	if r.IntraOpThreads < 0 || r.InterOpThreads < 0 || r.DeviceID < 0 {
		return fmt.Errorf("thread counts and deviceID must not be negative")
	}
	return nil
}

// Validate checks the enumerated fields. Empty Backend and TieBreak are
// accepted and mean onnx and last respectively.
func (m ModelConfig) Validate() error {
	switch m.Task {
	case TaskSequenceClassification, TaskTokenClassification:
	default:
		return fmt.Errorf("unknown task %q", m.Task)
	}
	switch m.Backend {
	case "", BackendNative, BackendONNX:
	default:
		return fmt.Errorf("unknown backend %q", m.Backend)
	}
	switch m.TieBreak {
	case "", TieBreakLast, TieBreakFirst:
	default:
		return fmt.Errorf("unknown tie break %q", m.TieBreak)
	}
	if m.ModelPath == "" {
		return fmt.Errorf("modelPath is required")
	}
	if m.MaxLength < 0 || m.PadToMultipleOf < 0 || m.MaxConcurrent < 0 {
		return fmt.Errorf("maxLength, padToMultipleOf and maxConcurrent must not be negative")
	}
	if m.MaxLength > 0 && m.MaxLength <= 2 {
		return fmt.Errorf("maxLength %d leaves no room for text after [CLS] and [SEP]", m.MaxLength)
	}
	return nil
}

// Model returns the named model configuration.
func (c *Config) Model(name string) (ModelConfig, error) {
	m, ok := c.Models[strings.ToLower(name)]
	if !ok {
		return ModelConfig{}, fmt.Errorf("model %q is not configured", name)
	}
	return m, nil
}
