package dataset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ml/lattice/internal/backend/cpu"
	"github.com/lattice-ml/lattice/internal/dataset"
	"github.com/lattice-ml/lattice/internal/tensor"
)

type be = *cpu.CPUBackend

func TestSliceIterator(t *testing.T) {
	backend := cpu.New()

	first := dataset.New(
		tensor.Randn[float32](tensor.Shape{4, 3}, backend),
		tensor.Rand[float32](tensor.Shape{4, 2}, backend),
	)
	second := dataset.New(
		tensor.Randn[float32](tensor.Shape{4, 3}, backend),
		tensor.Rand[float32](tensor.Shape{4, 2}, backend),
	)

	it := dataset.NewSliceIterator(first, second)

	require.True(t, it.HasNext())
	got, err := it.Next()
	require.NoError(t, err)
	assert.Same(t, first, got)

	got, err = it.Next()
	require.NoError(t, err)
	assert.Same(t, second, got)

	assert.False(t, it.HasNext())
	_, err = it.Next()
	require.Error(t, err)

	it.Reset()
	require.True(t, it.HasNext())
	got, err = it.Next()
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestEmptyIterator(t *testing.T) {
	it := dataset.NewSliceIterator[float32, be]()
	assert.False(t, it.HasNext())
}
