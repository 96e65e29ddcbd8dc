package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	internal "github.com/ZanzyTHEbar/textinfer/tinf"
	"github.com/ZanzyTHEbar/textinfer/tinf/backend"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"
)

// Registry owns the process environment and one pipeline per configured model.
type Registry struct {
	env       *backend.Environment
	pipelines map[string]*Pipeline
}

// Open builds every model in cfg under its lowercased name. If any model fails
// to load, the ones already built are closed and the error is returned.
func Open(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	logger := internal.GetLoggerWithLevel(cfg.Runtime.LogLevel)
	r := &Registry{
		env:       backend.NewEnvironment(cfg.Runtime, logger),
		pipelines: make(map[string]*Pipeline, len(cfg.Models)),
	}
	for _, name := range sortedNames(cfg.Models) {
		key := strings.ToLower(name)
		if _, dup := r.pipelines[key]; dup {
			_ = r.Close()
			return nil, fmt.Errorf("model %q: name collides with another model", name)
		}
		p, err := New(r.env, key, cfg.Models[name])
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		r.pipelines[key] = p
	}
	logger.Info().Strs("models", r.Names()).Msg("Models loaded")
	return r, nil
}

// Get returns the named pipeline.
func (r *Registry) Get(name string) (*Pipeline, error) {
	p, ok := r.pipelines[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("model %q is not loaded", name)
	}
	return p, nil
}

// Names lists the loaded models in sorted order.
func (r *Registry) Names() []string {
	return sortedNames(r.pipelines)
}

// Close closes every pipeline, then the environment.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.pipelines[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.pipelines = map[string]*Pipeline{}
	if err := r.env.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
