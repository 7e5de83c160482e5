package tensor

// Backend defines the interface that compute backends must implement.
// Backends handle the actual computation for tensor operations; the CPU
// implementation lives in internal/backend/cpu.
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations (element-wise with scalar).
	AddScalar(x *RawTensor, scalar float64) *RawTensor
	MulScalar(x *RawTensor, scalar float64) *RawTensor

	// MatMul performs 2D matrix multiplication: (M, K) @ (K, N) -> (M, N).
	MatMul(a, b *RawTensor) *RawTensor

	// Gemm performs out = alpha * op(a) @ op(b) + beta * out, where
	// op(x) is x or its transpose depending on transA/transB. When out is
	// nil a result tensor is allocated; otherwise out is written in place,
	// which lets layers accumulate gradients directly into pre-allocated
	// arena views. Returns the output tensor.
	Gemm(a, b, out *RawTensor, transA, transB bool, alpha, beta float64) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Softmax along the given dimension, numerically stable.
	Softmax(x *RawTensor, dim int) *RawTensor

	// Reduction operations.
	Sum(x *RawTensor) float64
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	// SumDimInto sums along dim writing the result into out, which must
	// have the reduced shape (keepDim semantics). Used for bias-gradient
	// views.
	SumDimInto(x, out *RawTensor, dim int)

	// Metadata.
	Name() string
	Device() Device
}
