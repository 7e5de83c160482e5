// Copyright 2025 Lattice ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the public API for parameter-update solvers.
package optim

import (
	"github.com/lattice-ml/lattice/internal/nn"
	"github.com/lattice-ml/lattice/internal/optim"
	"github.com/lattice-ml/lattice/internal/tensor"
)

// DefaultLR is the learning rate used when Config.LR is zero.
const DefaultLR = optim.DefaultLR

// Config holds solver hyperparameters. The zero value is usable.
type Config = optim.Config

// SGD is stochastic gradient descent with optional momentum.
type SGD[T tensor.DType, B tensor.Backend] = optim.SGD[T, B]

// NewSGD creates an SGD solver.
//
// Example:
//
//	solver := optim.NewSGD[float32, *cpu.Backend](optim.Config{LR: 0.1})
func NewSGD[T tensor.DType, B tensor.Backend](cfg Config) *SGD[T, B] {
	return optim.NewSGD[T, B](cfg)
}

// Solver returns a factory binding cfg to new SGD instances, for use as
// nn.Config.Solver.
func Solver[T tensor.DType, B tensor.Backend](cfg Config) nn.SolverFactory[T, B] {
	return optim.Solver[T, B](cfg)
}
