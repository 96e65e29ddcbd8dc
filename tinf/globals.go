package internal

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultConfigPath is the default path to the config file
	DefaultAppName       = "tinf"
	DefaultConfigPath    = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir      = filepath.Join(DefaultConfigPath, ".cache")
	DefaultResourcesDir  = "resources"
	DefaultLogLevel      = "info"
	DefaultPadMultipleOf = 2

	// Model artifacts used when no config file overrides them
	DefaultSentimentModel     = filepath.Join(DefaultResourcesDir, "text-classify.onnx")
	DefaultSentimentTokenizer = "bert-base-uncased"
	DefaultNERModel           = filepath.Join(DefaultResourcesDir, "roberta-ner.onnx")
	DefaultNERTokenizer       = "xlm-roberta-large-finetuned-conll03-english"
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// GetLoggerWithLevel returns GetLogger filtered to the named level.
// Unknown level names fall back to info.
func GetLoggerWithLevel(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return GetLogger().Level(lvl)
}
