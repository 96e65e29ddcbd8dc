//go:build onnx
// +build onnx

package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/textinfer/tinf/backend/native"
	"github.com/ZanzyTHEbar/textinfer/tinf/common"
	"github.com/ZanzyTHEbar/textinfer/tinf/config"
	"github.com/ZanzyTHEbar/textinfer/tinf/tensor"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

func initGraphRuntime(cfg config.RuntimeConfig) (bool, error) {
	if ort.IsInitialized() {
		return false, nil
	}
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return false, err
	}
	return true, nil
}

func destroyGraphRuntime() error { return ort.DestroyEnvironment() }

// graphBackend runs an exported ONNX graph through a dynamic session.
// ORT sessions allow concurrent Run calls, so no lock is held.
type graphBackend struct {
	name      string
	session   *ort.DynamicAdvancedSession
	inputs    []string
	output    string
	numLabels int
	id2label  map[string]string
}

func newGraph(env *Environment, cfg config.ModelConfig) (Backend, error) {
	if err := env.ensureGraphRuntime(); err != nil {
		return nil, err
	}
	path := cfg.ModelPath
	if fi, err := os.Stat(path); err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "model %s", path)
	} else if fi.IsDir() {
		return nil, common.Errorf(common.ErrModelLoad, "model %s is a directory", path)
	}
	logger := env.Logger().With().Str("model", path).Logger()

	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "read inputs of %s", path)
	}
	declared := make([]string, len(ins))
	for i, ii := range ins {
		declared[i] = ii.Name
	}
	inputs := orderInputs(declared)
	if len(inputs) < 2 {
		return nil, common.Errorf(common.ErrModelLoad, "%s declares %d inputs, need at least 2", path, len(inputs))
	}
	if len(inputs) > 3 {
		logger.Warn().Strs("ignored", inputs[3:]).Msg("Model declares more than three inputs")
		inputs = inputs[:3]
	}

	// Choose first float output
	var output string
	var numLabels int
	for _, oi := range outs {
		if oi.DataType == ort.TensorElementDataTypeFloat {
			output = oi.Name
			if d := oi.Dimensions; len(d) > 0 && d[len(d)-1] > 0 {
				numLabels = int(d[len(d)-1])
			}
			break
		}
	}
	if output == "" {
		return nil, common.Errorf(common.ErrModelLoad, "%s has no float output", path)
	}

	opts, err := sessionOptions(env.Runtime(), logger)
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "session options")
	}
	s, err := ort.NewDynamicAdvancedSession(path, inputs, []string{output}, opts)
	_ = opts.Destroy()
	if err != nil {
		return nil, common.Wrap(common.ErrModelLoad, err, "create onnx session for %s", path)
	}

	g := &graphBackend{
		name:      config.BackendONNX + ":" + path,
		session:   s,
		inputs:    inputs,
		output:    output,
		numLabels: numLabels,
	}
	// Exports usually ship the HuggingFace config.json next to the graph
	if c, err := native.ReadConfig(filepath.Dir(path)); err == nil {
		g.id2label = c.ID2Label
	}
	logger.Debug().Strs("inputs", inputs).Str("output", output).Msg("Opened onnx session")
	return g, nil
}

func sessionOptions(rt config.RuntimeConfig, logger zerolog.Logger) (*ort.SessionOptions, error) {
	level, err := parseOptimization(rt.GraphOptimization)
	if err != nil {
		return nil, err
	}
	o, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	var ortLevel ort.GraphOptimizationLevel = ort.GraphOptimizationLevelEnableBasic
	switch level {
	case optimizeDisable:
		ortLevel = ort.GraphOptimizationLevelDisableAll
	case optimizeExtended:
		ortLevel = ort.GraphOptimizationLevelEnableExtended
	case optimizeAll:
		ortLevel = ort.GraphOptimizationLevelEnableAll
	}
	if err := o.SetGraphOptimizationLevel(ortLevel); err != nil {
		_ = o.Destroy()
		return nil, err
	}
	if rt.IntraOpThreads > 0 {
		if err := o.SetIntraOpNumThreads(rt.IntraOpThreads); err != nil {
			_ = o.Destroy()
			return nil, err
		}
	}
	if rt.InterOpThreads > 0 {
		if err := o.SetInterOpNumThreads(rt.InterOpThreads); err != nil {
			_ = o.Destroy()
			return nil, err
		}
	}
	if err := appendProvider(o, rt); err != nil {
		logger.Warn().Err(err).Str("provider", rt.ExecutionProvider).Msg("Execution provider unavailable, using CPU")
	}
	return o, nil
}

func appendProvider(o *ort.SessionOptions, rt config.RuntimeConfig) error {
	switch strings.ToLower(rt.ExecutionProvider) {
	case "cuda":
		cu, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cu.Destroy()
		if err := cu.Update(map[string]string{"device_id": strconv.Itoa(rt.DeviceID)}); err != nil {
			return err
		}
		return o.AppendExecutionProviderCUDA(cu)
	case "tensorrt":
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return err
		}
		defer trt.Destroy()
		return o.AppendExecutionProviderTensorRT(trt)
	case "coreml":
		return o.AppendExecutionProviderCoreMLV2(map[string]string{})
	case "dml":
		return o.AppendExecutionProviderDirectML(rt.DeviceID)
	}
	return nil
}

func (g *graphBackend) Predict(_ context.Context, in *tensor.Inputs) (*tensor.Output, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	mats, err := in.ForArity(len(g.inputs))
	if err != nil {
		return nil, err
	}

	values := make([]ort.Value, 0, len(mats))
	defer func() { destroyValues(values) }()
	for i, m := range mats {
		t, err := ort.NewTensor(ort.NewShape(m.Shape()...), m.Data)
		if err != nil {
			return nil, common.Wrap(common.ErrInference, err, "input tensor %s", g.inputs[i])
		}
		values = append(values, t)
	}

	outs := []ort.Value{nil}
	if err := g.session.Run(values, outs); err != nil {
		return nil, common.Wrap(common.ErrInference, err, "run %s", g.name)
	}
	defer destroyValues(outs)

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, common.Errorf(common.ErrInference, "output %q is %T, want float32 tensor", g.output, outs[0])
	}
	return &tensor.Output{
		Shape: append([]int64(nil), t.GetShape()...),
		Data:  append([]float32(nil), t.GetData()...),
	}, nil
}

func destroyValues(vs []ort.Value) {
	for _, v := range vs {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

func (g *graphBackend) InputArity() int             { return len(g.inputs) }
func (g *graphBackend) NumLabels() int              { return g.numLabels }
func (g *graphBackend) Name() string                { return g.name }
func (g *graphBackend) ID2Label() map[string]string { return g.id2label }

func (g *graphBackend) Close() error {
	if g.session == nil {
		return nil
	}
	err := g.session.Destroy()
	g.session = nil
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}
