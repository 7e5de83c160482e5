package nn

import (
	"fmt"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// RnnOutputLayer is the time-series specialization of OutputLayer. Every
// entry point that touches rank-3 (batch, features, time) tensors flattens
// the time axis into the batch axis, delegates the numeric work to the base
// layer unchanged, and reshapes the result back to rank 3.
type RnnOutputLayer[T tensor.DType, B tensor.Backend] struct {
	*OutputLayer[T, B]
}

// NewRnnOutputLayer creates a sequence output layer.
func NewRnnOutputLayer[T tensor.DType, B tensor.Backend](cfg Config[T, B], backend B) (*RnnOutputLayer[T, B], error) {
	base, err := NewOutputLayer(cfg, backend)
	if err != nil {
		return nil, err
	}
	base.timeSeries = true
	return &RnnOutputLayer[T, B]{OutputLayer: base}, nil
}

// requireRank3Input checks the structural contract shared by the rank-3
// entry points.
func (l *RnnOutputLayer[T, B]) requireRank3Input() error {
	if l.input == nil {
		return fmt.Errorf("%w: sequence layer has no input", ErrNoInput)
	}
	if l.input.Rank() != 3 {
		return fmt.Errorf("%w: sequence layer requires rank 3 input, got rank %d (shape %v)",
			ErrUnsupportedRank, l.input.Rank(), l.input.Shape())
	}
	return nil
}

// BackpropGradient delegates to the base backprop on the flattened input
// and reshapes the propagated error back to the rank-3 input shape. The
// transient weight-noise parameters for this pass are cleared so they do
// not leak into the next forward pass.
func (l *RnnOutputLayer[T, B]) BackpropGradient(incoming *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], *Gradient[T, B], error) {
	if err := l.requireRank3Input(); err != nil {
		return nil, nil, err
	}
	eps2d, grad, err := l.OutputLayer.BackpropGradient(incoming)
	if err != nil {
		return nil, nil, err
	}
	eps3d, err := Reshape2dTo3d(eps2d, l.input.Shape()[0])
	if err != nil {
		return nil, nil, err
	}
	l.ClearNoise()
	return eps3d, grad, nil
}

// Output sets the rank-3 input and computes the rank-3 activation. Softmax
// is normalized per time step: row-wise over the flattened (B*T, F) matrix,
// never globally over the sequence.
func (l *RnnOutputLayer[T, B]) Output(input *tensor.Tensor[T, B], training bool) (*tensor.Tensor[T, B], error) {
	if input == nil {
		return nil, fmt.Errorf("%w: nil input to output", ErrNoInput)
	}
	l.SetInput(input)
	if err := l.requireRank3Input(); err != nil {
		return nil, err
	}
	batch := input.Shape()[0]

	if _, isSoftmax := l.cfg.Activation.(Softmax[T, B]); isSoftmax {
		pre, err := l.preOutput2d(training)
		if err != nil {
			return nil, err
		}
		act := tensor.New[T, B](l.backend.Softmax(pre.Raw(), 1), l.backend)
		act, err = l.ApplyMask(act)
		if err != nil {
			return nil, err
		}
		return Reshape2dTo3d(act, batch)
	}

	act2d, err := l.OutputLayer.Activate(training)
	if err != nil {
		return nil, err
	}
	return Reshape2dTo3d(act2d, batch)
}

// Activate computes the affine-plus-activation forward pass on the
// flattened input, bypassing the score/loss machinery, and returns the
// rank-3 activation.
func (l *RnnOutputLayer[T, B]) Activate(training bool) (*tensor.Tensor[T, B], error) {
	if err := l.requireRank3Input(); err != nil {
		return nil, err
	}
	act2d, err := l.OutputLayer.Activate(training)
	if err != nil {
		return nil, err
	}
	return Reshape2dTo3d(act2d, l.input.Shape()[0])
}

// SetMask converts a time mask to the flat per-row format the 2D math
// expects: a rank-2 (B, T) mask becomes a (B*T, 1) column vector, a rank-3
// per-output mask is flattened the same way as input and labels. Any other
// rank is an unsupported-operation error. A nil mask clears the mask.
func (l *RnnOutputLayer[T, B]) SetMask(mask *tensor.Tensor[T, B]) error {
	if mask == nil {
		l.mask = nil
		return nil
	}
	switch mask.Rank() {
	case 2:
		flat, err := ReshapeTimeSeriesMaskToVector(mask)
		if err != nil {
			return err
		}
		l.mask = flat
	case 3:
		flat, err := Reshape3dTo2d(mask)
		if err != nil {
			return err
		}
		l.mask = flat
	default:
		return fmt.Errorf("%w: sequence mask must be rank 2 or 3, got rank %d (shape %v)",
			ErrUnsupportedRank, mask.Rank(), mask.Shape())
	}
	return nil
}

// ComputeScoreForExamples computes each sequence example's score as the sum
// of its per-time-step losses: the flat [B*T, 1] per-example scores are
// reshaped to (B, T) and summed over time. Regularization is added once per
// example after the time sum, not once per time step.
func (l *RnnOutputLayer[T, B]) ComputeScoreForExamples(l1, l2 float64) (*tensor.Tensor[T, B], error) {
	if l.input == nil || l.labels == nil {
		return nil, fmt.Errorf("%w (input set: %v, labels set: %v)",
			ErrNoInputOrLabels, l.input != nil, l.labels != nil)
	}
	if err := l.requireRank3Input(); err != nil {
		return nil, err
	}
	flat, err := l.OutputLayer.ComputeScoreForExamples(0, 0)
	if err != nil {
		return nil, err
	}
	batch := l.input.Shape()[0]
	perTime, err := ReshapeVectorToTimeSeries(flat, batch)
	if err != nil {
		return nil, err
	}
	perExample := perTime.SumDim(1, true)
	if l1+l2 != 0 {
		perExample = perExample.AddScalar(l1 + l2)
	}
	return perExample, nil
}
