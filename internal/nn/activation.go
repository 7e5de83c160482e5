package nn

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Activation maps pre-activation values to activations and back-propagates
// gradients through that mapping. Apply must not modify z; Backprop takes
// the pre-activation z and the upstream gradient dL/da and returns dL/dz.
type Activation[T tensor.DType, B tensor.Backend] interface {
	Apply(z *tensor.Tensor[T, B], training bool) *tensor.Tensor[T, B]
	Backprop(z, grad *tensor.Tensor[T, B]) *tensor.Tensor[T, B]
}

// Identity is the linear activation a = z.
type Identity[T tensor.DType, B tensor.Backend] struct{}

func (Identity[T, B]) Apply(z *tensor.Tensor[T, B], _ bool) *tensor.Tensor[T, B] {
	return z
}

func (Identity[T, B]) Backprop(_, grad *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	return grad
}

// Sigmoid is the logistic activation a = 1 / (1 + exp(-z)).
type Sigmoid[T tensor.DType, B tensor.Backend] struct{}

func (Sigmoid[T, B]) Apply(z *tensor.Tensor[T, B], _ bool) *tensor.Tensor[T, B] {
	out := z.Clone()
	switch data := any(out.Data()).(type) {
	case []float32:
		for i, v := range data {
			data[i] = 1 / (1 + math32.Exp(-v))
		}
	case []float64:
		for i, v := range data {
			data[i] = 1 / (1 + math.Exp(-v))
		}
	}
	return out
}

func (s Sigmoid[T, B]) Backprop(z, grad *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	a := s.Apply(z, false)
	out := grad.Clone()
	dst := out.Data()
	av := a.Data()
	for i := range dst {
		dst[i] *= av[i] * (1 - av[i])
	}
	return out
}

// Tanh is the hyperbolic tangent activation.
type Tanh[T tensor.DType, B tensor.Backend] struct{}

func (Tanh[T, B]) Apply(z *tensor.Tensor[T, B], _ bool) *tensor.Tensor[T, B] {
	out := z.Clone()
	switch data := any(out.Data()).(type) {
	case []float32:
		for i, v := range data {
			data[i] = math32.Tanh(v)
		}
	case []float64:
		for i, v := range data {
			data[i] = math.Tanh(v)
		}
	}
	return out
}

func (t Tanh[T, B]) Backprop(z, grad *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	a := t.Apply(z, false)
	out := grad.Clone()
	dst := out.Data()
	av := a.Data()
	for i := range dst {
		dst[i] *= 1 - av[i]*av[i]
	}
	return out
}

// Softmax normalizes each row of a 2D pre-activation to a probability
// distribution. It is a distinguished type: losses and the sequence adapter
// type-assert on it to take row-wise shortcuts (cross-entropy delta p - y,
// per-time-step normalization).
type Softmax[T tensor.DType, B tensor.Backend] struct{}

func (Softmax[T, B]) Apply(z *tensor.Tensor[T, B], _ bool) *tensor.Tensor[T, B] {
	return tensor.New[T, B](z.Backend().Softmax(z.Raw(), 1), z.Backend())
}

// Backprop computes the full softmax Jacobian-vector product per row:
// dL/dz_i = a_i * (g_i - sum_j g_j * a_j).
func (s Softmax[T, B]) Backprop(z, grad *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	a := s.Apply(z, false)
	out := a.Clone()

	rows := z.Shape()[0]
	cols := z.Shape()[1]
	dst := out.Data()
	av := a.Data()
	gv := grad.Data()

	for r := 0; r < rows; r++ {
		base := r * cols
		var dot T
		for c := 0; c < cols; c++ {
			dot += gv[base+c] * av[base+c]
		}
		for c := 0; c < cols; c++ {
			dst[base+c] = av[base+c] * (gv[base+c] - dot)
		}
	}
	return out
}
