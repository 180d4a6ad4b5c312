package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	tensor, err := NewTensor([]int{1, 2, 3}, make([]float32, 6))
	require.NoError(t, err)
	assert.Equal(t, 6, tensor.Len())

	_, err = NewTensor([]int{1, 2, 3}, make([]float32, 5))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewTensor(nil, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewTensor([]int{-1, 4}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTensor_Squeeze(t *testing.T) {
	tensor := Tensor{Shape: []int{1, 13, 8400}}
	assert.Equal(t, []int{13, 8400}, tensor.Squeeze(2).Shape)
	assert.Equal(t, []int{1, 13, 8400}, tensor.Squeeze(3).Shape)

	// A non-unit leading dimension is never dropped.
	assert.Equal(t, []int{2, 13, 8400}, Tensor{Shape: []int{2, 13, 8400}}.Squeeze(2).Shape)
}

func TestFuncModel(t *testing.T) {
	m := &FuncModel{
		Shape: []int{1, 2},
		Fn: func(ctx context.Context, in Tensor) (Tensor, error) {
			return Tensor{Shape: []int{1}, Data: []float32{in.Data[0] + in.Data[1]}}, nil
		},
	}

	out, err := m.Run(context.Background(), Tensor{Shape: []int{1, 2}, Data: []float32{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, out.Data)

	_, err = m.Run(context.Background(), Tensor{Shape: []int{2}, Data: []float32{1, 2}})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.NoError(t, m.Close())
}
