package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Sum returns the sum of all elements as float64.
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) float64 {
	switch x.DType() {
	case tensor.Float32:
		var sum float64
		for _, v := range x.AsFloat32() {
			sum += float64(v)
		}
		return sum
	case tensor.Float64:
		return floats.Sum(x.AsFloat64())
	default:
		panic(fmt.Sprintf("sum: unsupported dtype %s", x.DType()))
	}
}

// SumDim sums along the given dimension. When keepDim is true the reduced
// dimension is kept with size 1, otherwise it is removed.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("sumdim: dim %d out of range for shape %v", dim, shape))
	}

	outShape := make(tensor.Shape, 0, len(shape))
	for d, s := range shape {
		if d == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, s)
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	out, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("sumdim: %v", err))
	}
	cpu.sumDimInto(x, out, dim)
	return out
}

// SumDimInto sums along the given dimension, writing the reduced result into
// out. out's element count must equal x's with dimension dim removed; its
// shape is otherwise free, so callers can reduce straight into gradient
// views like a [1, nOut] bias slot.
func (cpu *CPUBackend) SumDimInto(x, out *tensor.RawTensor, dim int) {
	shape := x.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("sumdim: dim %d out of range for shape %v", dim, shape))
	}
	want := x.NumElements() / shape[dim]
	if out.NumElements() != want {
		panic(fmt.Sprintf("sumdim: out has %d elements, want %d", out.NumElements(), want))
	}
	if out.DType() != x.DType() {
		panic(fmt.Sprintf("sumdim: dtype mismatch %s vs %s", x.DType(), out.DType()))
	}
	cpu.sumDimInto(x, out, dim)
}

func (cpu *CPUBackend) sumDimInto(x, out *tensor.RawTensor, dim int) {
	shape := x.Shape()
	strides := shape.ComputeStrides()

	// Treat x as (outer, reduced, inner) around dim; out is (outer, inner).
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	reduced := shape[dim]
	inner := strides[dim]

	switch x.DType() {
	case tensor.Float32:
		reduceDim(out.AsFloat32(), x.AsFloat32(), outer, reduced, inner)
	case tensor.Float64:
		reduceDim(out.AsFloat64(), x.AsFloat64(), outer, reduced, inner)
	default:
		panic(fmt.Sprintf("sumdim: unsupported dtype %s", x.DType()))
	}
}

func reduceDim[T float32 | float64](dst, src []T, outer, reduced, inner int) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			var sum T
			base := o * reduced * inner
			for r := 0; r < reduced; r++ {
				sum += src[base+r*inner+in]
			}
			dst[o*inner+in] = sum
		}
	}
}
