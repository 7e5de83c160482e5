package cpu

import (
	"fmt"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Reshape returns a view of the tensor under a new shape.
// The new shape must have the same number of elements; the data buffer is
// shared (zero-copy), which is valid because all CPU tensors are contiguous
// row-major.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	out, err := t.WithShape(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return out
}

// Transpose permutes the tensor's dimensions, materializing a contiguous
// row-major copy. If axes is empty, all dimensions are reversed (standard
// transpose for 2D).
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: got %d axes for %dD tensor", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	outShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axes %v for shape %v", axes, shape))
		}
		seen[ax] = true
		outShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(outShape, t.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	switch t.DType() {
	case tensor.Float32:
		permute(result.AsFloat32(), t.AsFloat32(), shape, outShape, axes)
	case tensor.Float64:
		permute(result.AsFloat64(), t.AsFloat64(), shape, outShape, axes)
	default:
		panic(fmt.Sprintf("transpose: unsupported dtype %s", t.DType()))
	}

	return result
}

// permute copies src into dst with dimensions reordered by axes:
// dst coordinate d maps to src coordinate axes[d].
func permute[T float32 | float64](dst, src []T, inShape, outShape tensor.Shape, axes []int) {
	inStrides := inShape.ComputeStrides()
	outStrides := outShape.ComputeStrides()

	for outIdx := range dst {
		inIdx := 0
		remaining := outIdx
		for d := 0; d < len(outShape); d++ {
			coord := remaining / outStrides[d]
			remaining %= outStrides[d]
			inIdx += coord * inStrides[axes[d]]
		}
		dst[outIdx] = src[inIdx]
	}
}
