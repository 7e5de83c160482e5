package nn

import (
	"math"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Xavier initializes a tensor with Xavier/Glorot initialization:
// N(0, 2 / (fanIn + fanOut)).
func Xavier[T tensor.DType, B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[T, B] {
	std := math.Sqrt(2.0 / float64(fanIn+fanOut))
	return tensor.Randn[T, B](shape, backend).MulScalar(std)
}

// Zeros initializes a tensor with zeros (for biases).
func Zeros[T tensor.DType, B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[T, B] {
	return tensor.Zeros[T, B](shape, backend)
}
