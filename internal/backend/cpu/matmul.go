package cpu

import (
	"fmt"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.Gemm(a, b, nil, false, false, 1.0, 0.0)
}

// Gemm performs out = alpha * op(a) @ op(b) + beta * out where op(x) is x
// or its transpose. The transpose is folded into the index arithmetic, so
// no transposed copy is materialized. When out is nil a fresh tensor is
// allocated (beta is then irrelevant); otherwise out must already have the
// result shape, which lets callers accumulate straight into gradient views.
func (cpu *CPUBackend) Gemm(a, b, out *tensor.RawTensor, transA, transB bool, alpha, beta float64) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("gemm: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("gemm: dtype mismatch %s vs %s", a.DType(), b.DType()))
	}

	m, k := aShape[0], aShape[1]
	if transA {
		m, k = k, m
	}
	kAlt, n := bShape[0], bShape[1]
	if transB {
		kAlt, n = n, kAlt
	}
	if k != kAlt {
		panic(fmt.Sprintf("gemm: shape mismatch %v @ %v (transA=%v, transB=%v)", aShape, bShape, transA, transB))
	}

	if out == nil {
		var err error
		out, err = tensor.NewRaw(tensor.Shape{m, n}, a.DType(), cpu.device)
		if err != nil {
			panic(fmt.Sprintf("gemm: failed to create result tensor: %v", err))
		}
		beta = 0
	} else if !out.Shape().Equal(tensor.Shape{m, n}) {
		panic(fmt.Sprintf("gemm: out shape %v, want [%d %d]", out.Shape(), m, n))
	}

	switch a.DType() {
	case tensor.Float32:
		gemm(out.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n,
			aShape[1], bShape[1], transA, transB, float32(alpha), float32(beta))
	case tensor.Float64:
		gemm(out.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n,
			aShape[1], bShape[1], transA, transB, alpha, beta)
	default:
		panic(fmt.Sprintf("gemm: unsupported dtype %s", a.DType()))
	}

	return out
}

// gemm is the naive O(n³) kernel. aCols/bCols are the physical (row-major)
// column counts of a and b, used to index through the logical transpose.
func gemm[T float32 | float64](c, a, b []T, m, k, n, aCols, bCols int, transA, transB bool, alpha, beta T) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum T
			for kIdx := 0; kIdx < k; kIdx++ {
				var av, bv T
				if transA {
					av = a[kIdx*aCols+i]
				} else {
					av = a[i*aCols+kIdx]
				}
				if transB {
					bv = b[j*bCols+kIdx]
				} else {
					bv = b[kIdx*bCols+j]
				}
				sum += av * bv
			}
			if beta == 0 {
				c[i*n+j] = alpha * sum
			} else {
				c[i*n+j] = alpha*sum + beta*c[i*n+j]
			}
		}
	}
}
