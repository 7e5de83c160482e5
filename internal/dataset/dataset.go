// Package dataset provides the minimal feature/label pair abstraction the
// layer fitting contract consumes.
package dataset

import (
	"fmt"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// DataSet is a single (features, labels) mini-batch.
type DataSet[T tensor.DType, B tensor.Backend] struct {
	Features *tensor.Tensor[T, B]
	Labels   *tensor.Tensor[T, B]
}

// New creates a DataSet from a feature/label pair.
func New[T tensor.DType, B tensor.Backend](features, labels *tensor.Tensor[T, B]) *DataSet[T, B] {
	return &DataSet[T, B]{Features: features, Labels: labels}
}

// Iterator yields DataSets in order. Consuming an iterator is repeated
// single-pair fitting until exhausted.
type Iterator[T tensor.DType, B tensor.Backend] interface {
	HasNext() bool
	Next() (*DataSet[T, B], error)
	Reset()
}

// SliceIterator iterates over an in-memory slice of DataSets.
type SliceIterator[T tensor.DType, B tensor.Backend] struct {
	sets []*DataSet[T, B]
	pos  int
}

// NewSliceIterator creates an iterator over the given DataSets.
func NewSliceIterator[T tensor.DType, B tensor.Backend](sets ...*DataSet[T, B]) *SliceIterator[T, B] {
	return &SliceIterator[T, B]{sets: sets}
}

// HasNext reports whether another DataSet remains.
func (it *SliceIterator[T, B]) HasNext() bool {
	return it.pos < len(it.sets)
}

// Next returns the next DataSet.
func (it *SliceIterator[T, B]) Next() (*DataSet[T, B], error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("iterator exhausted after %d datasets", len(it.sets))
	}
	ds := it.sets[it.pos]
	it.pos++
	return ds, nil
}

// Reset rewinds the iterator to the first DataSet.
func (it *SliceIterator[T, B]) Reset() {
	it.pos = 0
}
