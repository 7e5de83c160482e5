// Copyright 2025 Lattice ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides type-safe tensor operations for the Lattice
// scoring engine.
//
// Tensors are generic over their element type and compute backend:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{3, 4}, backend)
//	y := tensor.Ones[float32](tensor.Shape{3, 4}, backend)
//	z := x.Add(y)
//
// Element-wise operations broadcast NumPy-style; matrix multiplication,
// reshaping and reductions delegate to the backend. All public types are
// aliases for the implementation in internal/tensor.
package tensor
