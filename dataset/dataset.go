// Copyright 2025 Lattice ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dataset provides the public feature/label pair abstraction
// consumed by the layer fitting contract.
package dataset

import (
	"github.com/lattice-ml/lattice/internal/dataset"
	"github.com/lattice-ml/lattice/internal/tensor"
)

// DataSet is a single (features, labels) mini-batch.
type DataSet[T tensor.DType, B tensor.Backend] = dataset.DataSet[T, B]

// New creates a DataSet from a feature/label pair.
func New[T tensor.DType, B tensor.Backend](features, labels *tensor.Tensor[T, B]) *DataSet[T, B] {
	return dataset.New(features, labels)
}

// Iterator yields DataSets in order.
type Iterator[T tensor.DType, B tensor.Backend] = dataset.Iterator[T, B]

// SliceIterator iterates over an in-memory slice of DataSets.
type SliceIterator[T tensor.DType, B tensor.Backend] = dataset.SliceIterator[T, B]

// NewSliceIterator creates an iterator over the given DataSets.
func NewSliceIterator[T tensor.DType, B tensor.Backend](sets ...*DataSet[T, B]) *SliceIterator[T, B] {
	return dataset.NewSliceIterator(sets...)
}
