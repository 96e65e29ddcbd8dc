package backend

import (
	"sync"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"

	"github.com/rs/zerolog"
)

// Environment is the process-scoped state every backend shares. Create it once,
// pass it by reference, and Close it after all backends are closed.
//
// The ONNX Runtime is initialised lazily by the first graph backend. When the
// runtime was already up before that, the Environment does not own it and
// leaves it running on Close.
type Environment struct {
	cfg    config.RuntimeConfig
	logger zerolog.Logger

	mu          sync.Mutex
	runtimeUp   bool
	ownsRuntime bool
	closed      bool
}

// NewEnvironment records the runtime settings. Nothing is initialised yet.
func NewEnvironment(cfg config.RuntimeConfig, logger zerolog.Logger) *Environment {
	return &Environment{
		cfg:    cfg,
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

// Runtime returns the settings the environment was created with.
func (e *Environment) Runtime() config.RuntimeConfig { return e.cfg }

// Logger returns the backend component logger.
func (e *Environment) Logger() zerolog.Logger { return e.logger }

func (e *Environment) ensureGraphRuntime() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return common.Errorf(common.ErrModelLoad, "environment is closed")
	}
	if e.runtimeUp {
		return nil
	}
	owns, err := initGraphRuntime(e.cfg)
	if err != nil {
		return common.Wrap(common.ErrModelLoad, err, "initialize onnx runtime")
	}
	e.runtimeUp, e.ownsRuntime = true, owns
	e.logger.Debug().
		Bool("owned", owns).
		Str("sharedLibrary", e.cfg.SharedLibraryPath).
		Msg("ONNX runtime initialized")
	return nil
}

// Close tears down the runtime if this environment initialised it. Calling
// Close more than once is a no-op.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.runtimeUp && e.ownsRuntime {
		e.runtimeUp = false
		if err := destroyGraphRuntime(); err != nil {
			return common.Wrap(common.ErrInference, err, "destroy onnx runtime")
		}
		e.logger.Debug().Msg("ONNX runtime destroyed")
	}
	return nil
}
