package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{device: tensor.CPU}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] + y[i]
			}
		},
		func(dst, x, y []float64) { floats.AddTo(dst, x, y) },
		func(x, y float32) float32 { return x + y },
		func(x, y float64) float64 { return x + y },
	)
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] - y[i]
			}
		},
		func(dst, x, y []float64) { floats.SubTo(dst, x, y) },
		func(x, y float32) float32 { return x - y },
		func(x, y float64) float64 { return x - y },
	)
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] * y[i]
			}
		},
		func(dst, x, y []float64) { floats.MulTo(dst, x, y) },
		func(x, y float32) float32 { return x * y },
		func(x, y float64) float64 { return x * y },
	)
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b,
		func(dst, x, y []float32) {
			for i := range dst {
				dst[i] = x[i] / y[i]
			}
		},
		func(dst, x, y []float64) { floats.DivTo(dst, x, y) },
		func(x, y float32) float32 { return x / y },
		func(x, y float64) float64 { return x / y },
	)
}

// AddScalar adds a scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := x.Clone()
	switch x.DType() {
	case tensor.Float32:
		data := result.AsFloat32()
		s := float32(scalar)
		for i := range data {
			data[i] += s
		}
	case tensor.Float64:
		floats.AddConst(scalar, result.AsFloat64())
	default:
		panic(fmt.Sprintf("addscalar: unsupported dtype %s", x.DType()))
	}
	return result
}

// MulScalar multiplies every element by a scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := x.Clone()
	switch x.DType() {
	case tensor.Float32:
		data := result.AsFloat32()
		s := float32(scalar)
		for i := range data {
			data[i] *= s
		}
	case tensor.Float64:
		floats.Scale(scalar, result.AsFloat64())
	default:
		panic(fmt.Sprintf("mulscalar: unsupported dtype %s", x.DType()))
	}
	return result
}

// binaryOp dispatches an element-wise binary operation on dtype, taking the
// vectorized fast path when shapes match exactly and the generic
// coordinate-mapping path when broadcasting is needed.
func (cpu *CPUBackend) binaryOp(
	name string,
	a, b *tensor.RawTensor,
	fast32 func(dst, x, y []float32),
	fast64 func(dst, x, y []float64),
	op32 func(x, y float32) float32,
	op64 func(x, y float64) float64,
) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", name, a.DType(), b.DType()))
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	switch a.DType() {
	case tensor.Float32:
		if !needsBroadcast {
			fast32(result.AsFloat32(), a.AsFloat32(), b.AsFloat32())
		} else {
			broadcastOp(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), outShape, a.Shape(), b.Shape(), op32)
		}
	case tensor.Float64:
		if !needsBroadcast {
			fast64(result.AsFloat64(), a.AsFloat64(), b.AsFloat64())
		} else {
			broadcastOp(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), outShape, a.Shape(), b.Shape(), op64)
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
	}

	return result
}

// broadcastOp applies op element-wise, mapping each output coordinate back
// to (possibly size-1) source coordinates.
func broadcastOp[T float32 | float64](dst, x, y []T, outShape, xShape, yShape tensor.Shape, op func(T, T) T) {
	outStrides := outShape.ComputeStrides()
	xStrides := xShape.ComputeStrides()
	yStrides := yShape.ComputeStrides()
	xOff := len(outShape) - len(xShape)
	yOff := len(outShape) - len(yShape)

	for outIdx := range dst {
		xIdx, yIdx := 0, 0
		remaining := outIdx
		for d := 0; d < len(outShape); d++ {
			coord := remaining / outStrides[d]
			remaining %= outStrides[d]

			if xd := d - xOff; xd >= 0 {
				c := coord
				if xShape[xd] == 1 {
					c = 0
				}
				xIdx += c * xStrides[xd]
			}
			if yd := d - yOff; yd >= 0 {
				c := coord
				if yShape[yd] == 1 {
					c = 0
				}
				yIdx += c * yStrides[yd]
			}
		}
		dst[outIdx] = op(x[xIdx], y[yIdx])
	}
}
