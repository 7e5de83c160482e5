// Package cpu implements the pure-Go CPU backend for tensor operations.
//
// All kernels are dispatched on the tensor's runtime dtype: float32 paths
// use chewxy/math32 for transcendentals, float64 paths use gonum's floats
// package for the same-shape fast loops.
package cpu
