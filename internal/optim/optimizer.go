// Package optim implements parameter-update solvers consumed by the layer
// fitting contract. Solvers read gradients through their named arena views
// and update parameter tensors in place.
package optim

// DefaultLR is the learning rate used when Config.LR is zero.
const DefaultLR = 0.01

// Config holds solver hyperparameters. The zero value is usable: LR
// defaults to DefaultLR, momentum to 0 (plain SGD).
type Config struct {
	LR       float64
	Momentum float64
}

func (c Config) withDefaults() Config {
	if c.LR == 0 {
		c.LR = DefaultLR
	}
	return c
}
