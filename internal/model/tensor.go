// Package model wraps the tensor runtimes used for inference. A Model runs
// a single float32 input tensor (batch size 1) and returns a single float32
// output tensor; everything model-specific lives in package ai.
package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned when a tensor does not fit the model input.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	// ErrDynamicShape is returned for models whose non-batch dimensions are
	// not fixed at export time.
	ErrDynamicShape = errors.New("model has dynamic non-batch dimensions")
)

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewTensor validates that data holds exactly the number of elements shape
// describes.
func NewTensor(shape []int, data []float32) (Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return Tensor{}, err
	}
	if n != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShapeMismatch, shape, n, len(data))
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// NumElements returns the product of the dimensions.
func NumElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}

// Len returns the number of elements.
func (t Tensor) Len() int {
	return len(t.Data)
}

// Squeeze drops leading dimensions of size 1 until at most rank dimensions
// remain.
func (t Tensor) Squeeze(rank int) Tensor {
	shape := t.Shape
	for len(shape) > rank && shape[0] == 1 {
		shape = shape[1:]
	}
	return Tensor{Shape: shape, Data: t.Data}
}

// Model is a loaded network ready to run.
type Model interface {
	// Run executes one forward pass. Implementations are safe for
	// concurrent use.
	Run(ctx context.Context, input Tensor) (Tensor, error)
	// InputShape returns the fixed input shape, batch dimension included.
	InputShape() []int
	Close() error
}

// Loader opens model files for a particular runtime.
type Loader interface {
	Load(ctx context.Context, path string) (Model, error)
	Close() error
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FuncModel adapts a function to the Model interface. It is used for
// detector-free tooling and in tests.
type FuncModel struct {
	Shape []int
	Fn    func(ctx context.Context, input Tensor) (Tensor, error)
}

// Run calls Fn.
func (f *FuncModel) Run(ctx context.Context, input Tensor) (Tensor, error) {
	if !sameShape(input.Shape, f.Shape) {
		return Tensor{}, fmt.Errorf("%w: model expects %v, got %v", ErrShapeMismatch, f.Shape, input.Shape)
	}
	return f.Fn(ctx, input)
}

// InputShape returns Shape.
func (f *FuncModel) InputShape() []int { return append([]int(nil), f.Shape...) }

// Close is a no-op.
func (f *FuncModel) Close() error { return nil }
