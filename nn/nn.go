// Copyright 2025 Lattice ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for the output-layer scoring and
// backpropagation engine: forward activation, scalar and per-example loss,
// weight/bias gradients and the propagated error signal, plus the
// time-series specialization for rank-3 (batch, features, time) tensors.
package nn

import (
	"github.com/lattice-ml/lattice/internal/nn"
	"github.com/lattice-ml/lattice/internal/tensor"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrNoInputOrLabels = nn.ErrNoInputOrLabels
	ErrNoInput         = nn.ErrNoInput
	ErrUnsupportedRank = nn.ErrUnsupportedRank
	ErrInvalidMask     = nn.ErrInvalidMask
	ErrNoSolver        = nn.ErrNoSolver
)

// Parameter keys used by the gradient arena and solvers.
const (
	WeightKey = nn.WeightKey
	BiasKey   = nn.BiasKey
)

// Activation maps pre-activations to activations and back-propagates
// gradients through that mapping.
type Activation[T tensor.DType, B tensor.Backend] = nn.Activation[T, B]

// Activation variants.
type (
	Identity[T tensor.DType, B tensor.Backend] = nn.Identity[T, B]
	Sigmoid[T tensor.DType, B tensor.Backend]  = nn.Sigmoid[T, B]
	Tanh[T tensor.DType, B tensor.Backend]     = nn.Tanh[T, B]
	// Softmax normalizes rows to probability distributions; losses and the
	// sequence adapter special-case it.
	Softmax[T tensor.DType, B tensor.Backend] = nn.Softmax[T, B]
)

// Loss scores activations against labels and produces the gradient of the
// loss with respect to the pre-activation.
type Loss[T tensor.DType, B tensor.Backend] = nn.Loss[T, B]

// Loss variants.
type (
	MSE[T tensor.DType, B tensor.Backend]          = nn.MSE[T, B]
	CrossEntropy[T tensor.DType, B tensor.Backend] = nn.CrossEntropy[T, B]
)

// Parameter represents a trainable parameter in a layer.
type Parameter[T tensor.DType, B tensor.Backend] = nn.Parameter[T, B]

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[T tensor.DType, B tensor.Backend](name string, t *tensor.Tensor[T, B]) *Parameter[T, B] {
	return nn.NewParameter(name, t)
}

// Gradient holds a layer's parameter gradients as named views into one
// contiguous arena, valid until the layer's next gradient-producing call.
type Gradient[T tensor.DType, B tensor.Backend] = nn.Gradient[T, B]

// Solver applies a parameter update from a gradient.
type Solver[T tensor.DType, B tensor.Backend] = nn.Solver[T, B]

// SolverFactory lazily constructs the solver bound to a layer on first Fit.
type SolverFactory[T tensor.DType, B tensor.Backend] = nn.SolverFactory[T, B]

// WeightNoise perturbs parameters for one training pass.
type WeightNoise[T tensor.DType, B tensor.Backend] = nn.WeightNoise[T, B]

// GaussianWeightNoise adds N(0, StdDev^2) noise during training.
type GaussianWeightNoise[T tensor.DType, B tensor.Backend] = nn.GaussianWeightNoise[T, B]

// Config configures an output layer.
type Config[T tensor.DType, B tensor.Backend] = nn.Config[T, B]

// OutputLayer is the terminal layer of a network: linear transform,
// activation, and loss-coupled scoring/backprop.
type OutputLayer[T tensor.DType, B tensor.Backend] = nn.OutputLayer[T, B]

// NewOutputLayer creates an output layer with Xavier-initialized weights.
//
// Example:
//
//	backend := cpu.New()
//	layer, err := nn.NewOutputLayer(nn.Config[float32, *cpu.Backend]{
//	    NIn:        4,
//	    NOut:       3,
//	    Activation: nn.Softmax[float32, *cpu.Backend]{},
//	    Loss:       nn.CrossEntropy[float32, *cpu.Backend]{},
//	}, backend)
func NewOutputLayer[T tensor.DType, B tensor.Backend](cfg Config[T, B], backend B) (*OutputLayer[T, B], error) {
	return nn.NewOutputLayer(cfg, backend)
}

// RnnOutputLayer is the time-series specialization of OutputLayer for
// rank-3 (batch, features, time) tensors.
type RnnOutputLayer[T tensor.DType, B tensor.Backend] = nn.RnnOutputLayer[T, B]

// NewRnnOutputLayer creates a sequence output layer.
func NewRnnOutputLayer[T tensor.DType, B tensor.Backend](cfg Config[T, B], backend B) (*RnnOutputLayer[T, B], error) {
	return nn.NewRnnOutputLayer(cfg, backend)
}

// Initialization functions

// Xavier initializes a tensor with Xavier/Glorot initialization.
func Xavier[T tensor.DType, B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[T, B] {
	return nn.Xavier[T, B](fanIn, fanOut, shape, backend)
}

// Zeros initializes a tensor with zeros (for biases).
func Zeros[T tensor.DType, B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[T, B] {
	return nn.Zeros[T, B](shape, backend)
}

// Time-series reshaping

// Reshape3dTo2d flattens (B, F, T) to (B*T, F), row i holding
// (batch i/T, time i%T).
func Reshape3dTo2d[T tensor.DType, B tensor.Backend](x *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	return nn.Reshape3dTo2d(x)
}

// Reshape2dTo3d unflattens (B*T, F) back to (B, F, T) given the batch size.
func Reshape2dTo3d[T tensor.DType, B tensor.Backend](x *tensor.Tensor[T, B], batch int) (*tensor.Tensor[T, B], error) {
	return nn.Reshape2dTo3d(x, batch)
}

// ReshapeTimeSeriesMaskToVector converts a (B, T) time mask to the flat
// (B*T, 1) column vector matching the flattened batch order.
func ReshapeTimeSeriesMaskToVector[T tensor.DType, B tensor.Backend](mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	return nn.ReshapeTimeSeriesMaskToVector(mask)
}

// ReshapeVectorToTimeSeries converts a flat (B*T, 1) column back to (B, T).
func ReshapeVectorToTimeSeries[T tensor.DType, B tensor.Backend](v *tensor.Tensor[T, B], batch int) (*tensor.Tensor[T, B], error) {
	return nn.ReshapeVectorToTimeSeries(v, batch)
}
