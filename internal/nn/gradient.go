package nn

import (
	"fmt"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Gradient holds one layer's parameter gradients in a single contiguous
// arena, handing out named sub-views shaped like their parameters. The
// arena is allocated once and overwritten by every gradient-producing call
// on the owning layer: a view is valid until the next such call.
type Gradient[T tensor.DType, B tensor.Backend] struct {
	flat  *tensor.RawTensor
	views map[string]*tensor.Tensor[T, B]
	order []string
}

// NewGradient allocates a gradient arena sized for the given parameters,
// with one view per parameter keyed by its name.
func NewGradient[T tensor.DType, B tensor.Backend](b B, params []*Parameter[T, B]) (*Gradient[T, B], error) {
	total := 0
	for _, p := range params {
		total += p.Value().NumElements()
	}

	var dummy T
	flat, err := tensor.NewRaw(tensor.Shape{total}, inferDataType(dummy), b.Device())
	if err != nil {
		return nil, fmt.Errorf("gradient arena: %w", err)
	}

	g := &Gradient[T, B]{
		flat:  flat,
		views: make(map[string]*tensor.Tensor[T, B], len(params)),
	}
	offset := 0
	for _, p := range params {
		view, err := flat.View(offset, p.Value().Shape())
		if err != nil {
			return nil, fmt.Errorf("gradient view %q: %w", p.Name(), err)
		}
		g.views[p.Name()] = tensor.New[T, B](view, b)
		g.order = append(g.order, p.Name())
		offset += p.Value().NumElements()
	}
	return g, nil
}

// Get returns the gradient view for the named parameter, or nil.
func (g *Gradient[T, B]) Get(name string) *tensor.Tensor[T, B] {
	return g.views[name]
}

// Names returns the parameter names in arena order.
func (g *Gradient[T, B]) Names() []string {
	return g.order
}

// Flat returns the whole arena as a rank-1 tensor view.
func (g *Gradient[T, B]) Flat() *tensor.RawTensor {
	return g.flat
}

func inferDataType[T tensor.DType](dummy T) tensor.DataType {
	switch any(dummy).(type) {
	case float32:
		return tensor.Float32
	default:
		return tensor.Float64
	}
}
