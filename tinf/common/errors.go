package common

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the inference pipeline. Every failure returned by the
// tokenizer, tensor, backend, decode and pipeline packages wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	ErrTokenization  = errors.New("tokenization error")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrModelLoad     = errors.New("model load error")
	ErrInference     = errors.New("inference error")
	ErrLabelMap      = errors.New("label map error")
)

// Wrap tags err with kind and a formatted context message. Both kind and err
// remain reachable through errors.Is / errors.As. A nil err yields a plain
// kind error carrying the message.
func Wrap(kind, err error, message string, args ...interface{}) error {
	context := fmt.Sprintf(message, args...)
	if err == nil {
		return fmt.Errorf("%w: %s", kind, context)
	}
	return fmt.Errorf("%w: %s: %w", kind, context, err)
}

// Errorf builds a kind error without an underlying cause.
func Errorf(kind error, message string, args ...interface{}) error {
	return Wrap(kind, nil, message, args...)
}

// KindOf reports which of the pipeline error kinds err carries, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrTokenization, ErrShapeMismatch, ErrModelLoad, ErrInference, ErrLabelMap} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
