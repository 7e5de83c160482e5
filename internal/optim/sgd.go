package optim

import (
	"github.com/lattice-ml/lattice/internal/nn"
	"github.com/lattice-ml/lattice/internal/tensor"
)

// SGD is stochastic gradient descent with optional momentum:
//
//	v = momentum * v + lr * g
//	w = w - v
//
// Velocity buffers are keyed by parameter name and created lazily.
type SGD[T tensor.DType, B tensor.Backend] struct {
	cfg      Config
	velocity map[string]*tensor.Tensor[T, B]
}

// NewSGD creates an SGD solver.
func NewSGD[T tensor.DType, B tensor.Backend](cfg Config) *SGD[T, B] {
	return &SGD[T, B]{
		cfg:      cfg.withDefaults(),
		velocity: make(map[string]*tensor.Tensor[T, B]),
	}
}

// LR returns the learning rate.
func (s *SGD[T, B]) LR() float64 {
	return s.cfg.LR
}

// Step applies one update to every parameter that has a gradient view.
// Parameter tensors are updated in place.
func (s *SGD[T, B]) Step(params map[string]*nn.Parameter[T, B], grad *nn.Gradient[T, B]) {
	for name, p := range params {
		g := grad.Get(name)
		if g == nil {
			continue
		}

		update := g.MulScalar(s.cfg.LR)
		if s.cfg.Momentum > 0 {
			if v, ok := s.velocity[name]; ok {
				update = v.MulScalar(s.cfg.Momentum).Add(update)
			}
			s.velocity[name] = update
		}

		copy(p.Value().Data(), p.Value().Sub(update).Data())
	}
}

// Solver returns a factory binding this configuration to new SGD instances,
// for use as nn.Config.Solver.
func Solver[T tensor.DType, B tensor.Backend](cfg Config) nn.SolverFactory[T, B] {
	return func() nn.Solver[T, B] {
		return NewSGD[T, B](cfg)
	}
}
