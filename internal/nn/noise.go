package nn

import "github.com/lattice-ml/lattice/internal/tensor"

// WeightNoise perturbs a parameter for one forward/backward pass. The layer
// caches the perturbed tensor during training so forward and backward see
// the same values, and clears the cache when the pass completes.
type WeightNoise[T tensor.DType, B tensor.Backend] interface {
	Apply(param *tensor.Tensor[T, B], training bool) *tensor.Tensor[T, B]
}

// GaussianWeightNoise adds N(0, StdDev^2) noise to parameters during
// training. Inference passes see the unperturbed parameter.
type GaussianWeightNoise[T tensor.DType, B tensor.Backend] struct {
	StdDev float64
}

func (g GaussianWeightNoise[T, B]) Apply(param *tensor.Tensor[T, B], training bool) *tensor.Tensor[T, B] {
	if !training || g.StdDev <= 0 {
		return param
	}
	noise := tensor.Randn[T, B](param.Shape(), param.Backend()).MulScalar(g.StdDev)
	return param.Add(noise)
}
