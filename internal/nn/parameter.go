package nn

import "github.com/lattice-ml/lattice/internal/tensor"

// Parameter keys. The gradient arena and solvers address parameters by
// these names.
const (
	WeightKey = "W"
	BiasKey   = "b"
)

// Parameter represents a trainable parameter in a layer.
type Parameter[T tensor.DType, B tensor.Backend] struct {
	name  string
	value *tensor.Tensor[T, B]
}

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[T tensor.DType, B tensor.Backend](name string, t *tensor.Tensor[T, B]) *Parameter[T, B] {
	return &Parameter[T, B]{name: name, value: t}
}

// Name returns the parameter's name.
func (p *Parameter[T, B]) Name() string {
	return p.name
}

// Value returns the parameter's tensor.
func (p *Parameter[T, B]) Value() *tensor.Tensor[T, B] {
	return p.value
}
