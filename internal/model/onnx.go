package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/plantguard/edge/internal/logger"
)

// ONNXConfig configures the in-process onnxruntime backend.
type ONNXConfig struct {
	// SharedLibraryPath points at libonnxruntime.so. Empty uses the
	// library's default lookup.
	SharedLibraryPath string
	IntraOpThreads    int
}

// ONNXLoader loads .onnx models into onnxruntime sessions. The runtime
// environment is process-global, so only one loader should be open.
type ONNXLoader struct {
	cfg    ONNXConfig
	logger *logger.Logger
}

// NewONNXLoader initializes the onnxruntime environment.
func NewONNXLoader(cfg ONNXConfig, log *logger.Logger) (*ONNXLoader, error) {
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
	}
	return &ONNXLoader{cfg: cfg, logger: log}, nil
}

// Load creates a session bound to pre-allocated input and output tensors.
func (l *ONNXLoader) Load(ctx context.Context, path string) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("model %s: expected 1 input and at least 1 output, got %d and %d", path, len(inputs), len(outputs))
	}

	inShape, err := fixedShape(inputs[0].Dimensions)
	if err != nil {
		return nil, fmt.Errorf("model %s input %q: %w", path, inputs[0].Name, err)
	}
	outShape, err := fixedShape(outputs[0].Dimensions)
	if err != nil {
		return nil, fmt.Errorf("model %s output %q: %w", path, outputs[0].Name, err)
	}

	inTensor, err := ort.NewEmptyTensor[float32](toOrtShape(inShape))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate input tensor: %w", err)
	}
	outTensor, err := ort.NewEmptyTensor[float32](toOrtShape(outShape))
	if err != nil {
		inTensor.Destroy()
		return nil, fmt.Errorf("failed to allocate output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inTensor.Destroy()
		outTensor.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if l.cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(l.cfg.IntraOpThreads); err != nil {
			l.logger.Warn("Failed to set intra-op threads", "threads", l.cfg.IntraOpThreads, "error", err)
		}
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{inTensor}, []ort.Value{outTensor},
		options,
	)
	if err != nil {
		inTensor.Destroy()
		outTensor.Destroy()
		return nil, fmt.Errorf("failed to create session for %s: %w", path, err)
	}

	l.logger.Info("Model loaded",
		"path", path,
		"input", inputs[0].Name,
		"input_shape", inShape,
		"output", outputs[0].Name,
		"output_shape", outShape,
	)

	return &onnxModel{
		session:  session,
		input:    inTensor,
		output:   outTensor,
		inShape:  inShape,
		outShape: outShape,
	}, nil
}

// Close tears down the onnxruntime environment.
func (l *ONNXLoader) Close() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

type onnxModel struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	inShape  []int
	outShape []int
	closed   bool
}

func (m *onnxModel) InputShape() []int {
	return append([]int(nil), m.inShape...)
}

// Run copies input into the bound tensor, runs the session and copies the
// result out. onnxruntime cannot be interrupted mid-run; ctx is only
// checked before starting.
func (m *onnxModel) Run(ctx context.Context, input Tensor) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	if !sameShape(input.Shape, m.inShape) {
		return Tensor{}, fmt.Errorf("%w: model expects %v, got %v", ErrShapeMismatch, m.inShape, input.Shape)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Tensor{}, fmt.Errorf("model is closed")
	}

	copy(m.input.GetData(), input.Data)
	if err := m.session.Run(); err != nil {
		return Tensor{}, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(m.output.GetData()))
	copy(out, m.output.GetData())
	return Tensor{Shape: append([]int(nil), m.outShape...), Data: out}, nil
}

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
	return err
}

// fixedShape resolves a dynamic batch dimension to 1 and rejects any other
// dynamic dimension.
func fixedShape(dims ort.Shape) ([]int, error) {
	shape := make([]int, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			shape[i] = int(d)
		case i == 0:
			shape[i] = 1
		default:
			return nil, fmt.Errorf("%w: %v", ErrDynamicShape, dims)
		}
	}
	return shape, nil
}

func toOrtShape(shape []int) ort.Shape {
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return ort.NewShape(dims...)
}
