package cpu

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Softmax applies the softmax function along the given dimension.
// Numerically stable: the slice maximum is subtracted before exponentiation.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("softmax: dim %d out of range for shape %v", dim, shape))
	}

	result, err := tensor.NewRaw(shape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("softmax: failed to create result tensor: %v", err))
	}

	strides := shape.ComputeStrides()
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	n := shape[dim]
	inner := strides[dim]

	switch x.DType() {
	case tensor.Float32:
		softmaxSlices(result.AsFloat32(), x.AsFloat32(), outer, n, inner, math32.Exp)
	case tensor.Float64:
		softmaxSlices(result.AsFloat64(), x.AsFloat64(), outer, n, inner, math.Exp)
	default:
		panic(fmt.Sprintf("softmax: unsupported dtype %s", x.DType()))
	}

	return result
}

// softmaxSlices runs stable softmax over every length-n slice along the
// reduced dimension, with the layout factored as (outer, n, inner).
func softmaxSlices[T float32 | float64](dst, src []T, outer, n, inner int, exp func(T) T) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*n*inner + in

			maxVal := src[base]
			for i := 1; i < n; i++ {
				if v := src[base+i*inner]; v > maxVal {
					maxVal = v
				}
			}

			var sum T
			for i := 0; i < n; i++ {
				e := exp(src[base+i*inner] - maxVal)
				dst[base+i*inner] = e
				sum += e
			}

			inv := T(1) / sum
			for i := 0; i < n; i++ {
				dst[base+i*inner] *= inv
			}
		}
	}
}
