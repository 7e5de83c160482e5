package nn

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Loss scores 2D activations against 2D labels and produces the gradient of
// the loss with respect to the pre-activation ("delta"). All three operations
// take the pre-activation, not the activation; the activation function is
// applied internally so losses can exploit activation-specific shortcuts.
//
// Masks are applied inside the loss and nowhere else: a [rows, 1] column
// vector weighs whole examples, a full-shape mask weighs individual outputs.
type Loss[T tensor.DType, B tensor.Backend] interface {
	// Score returns the total loss over the batch, averaged over rows when
	// average is true.
	Score(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B], average bool) (float64, error)

	// ScoreArray returns the per-example loss as a [rows, 1] column.
	ScoreArray(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error)

	// Gradient returns dL/d(preOutput), shape [rows, nOut].
	Gradient(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error)
}

// maskPerExample reports whether mask is a per-example column vector for a
// [rows, cols] target, as opposed to a full-shape per-output mask.
func maskPerExample[T tensor.DType, B tensor.Backend](mask *tensor.Tensor[T, B], rows, cols int) (bool, error) {
	shape := mask.Shape()
	if shape.Equal(tensor.Shape{rows, cols}) {
		return false, nil
	}
	if shape.IsColumnVector() && shape[0] == rows {
		return true, nil
	}
	return false, fmt.Errorf("%w: mask %v for output [%d %d]", ErrInvalidMask, shape, rows, cols)
}

// MSE is the mean squared error loss: per example, sum((a - y)^2) / nOut.
type MSE[T tensor.DType, B tensor.Backend] struct{}

func (m MSE[T, B]) Score(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B], average bool) (float64, error) {
	sa, err := m.ScoreArray(labels, preOutput, act, mask)
	if err != nil {
		return 0, err
	}
	sum := sa.Sum()
	if average {
		sum /= float64(preOutput.Shape()[0])
	}
	return sum, nil
}

func (MSE[T, B]) ScoreArray(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	rows, cols := preOutput.Shape()[0], preOutput.Shape()[1]

	a := act.Apply(preOutput, true)
	diff := a.Sub(labels)
	sq := diff.Mul(diff)

	perExample := false
	if mask != nil {
		var err error
		perExample, err = maskPerExample(mask, rows, cols)
		if err != nil {
			return nil, err
		}
		if !perExample {
			sq = sq.Mul(mask)
		}
	}

	perRow := sq.SumDim(1, true).MulScalar(1 / float64(cols))
	if mask != nil && perExample {
		perRow = perRow.Mul(mask)
	}
	return perRow, nil
}

func (MSE[T, B]) Gradient(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	rows, cols := preOutput.Shape()[0], preOutput.Shape()[1]

	a := act.Apply(preOutput, true)
	dLda := a.Sub(labels).MulScalar(2 / float64(cols))

	perExample := false
	if mask != nil {
		var err error
		perExample, err = maskPerExample(mask, rows, cols)
		if err != nil {
			return nil, err
		}
		if !perExample {
			dLda = dLda.Mul(mask)
		}
	}

	delta := act.Backprop(preOutput, dLda)
	if mask != nil && perExample {
		// broadcast: zeroes whole rows of the delta
		delta = delta.Mul(mask)
	}
	return delta, nil
}

// CrossEntropy is the multi-class cross-entropy loss:
// per example, -sum(y * log(a)). Activations are clamped away from zero
// before the log for numerical stability.
type CrossEntropy[T tensor.DType, B tensor.Backend] struct{}

const probEps = 1e-7

func (c CrossEntropy[T, B]) Score(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B], average bool) (float64, error) {
	sa, err := c.ScoreArray(labels, preOutput, act, mask)
	if err != nil {
		return 0, err
	}
	sum := sa.Sum()
	if average {
		sum /= float64(preOutput.Shape()[0])
	}
	return sum, nil
}

func (CrossEntropy[T, B]) ScoreArray(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	rows, cols := preOutput.Shape()[0], preOutput.Shape()[1]

	a := act.Apply(preOutput, true)
	perElem := negLogLikelihood(labels, a)

	perExample := false
	if mask != nil {
		var err error
		perExample, err = maskPerExample(mask, rows, cols)
		if err != nil {
			return nil, err
		}
		if !perExample {
			perElem = perElem.Mul(mask)
		}
	}

	perRow := perElem.SumDim(1, true)
	if mask != nil && perExample {
		perRow = perRow.Mul(mask)
	}
	return perRow, nil
}

func (CrossEntropy[T, B]) Gradient(labels, preOutput *tensor.Tensor[T, B], act Activation[T, B], mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	rows, cols := preOutput.Shape()[0], preOutput.Shape()[1]

	perExample := false
	if mask != nil {
		var err error
		perExample, err = maskPerExample(mask, rows, cols)
		if err != nil {
			return nil, err
		}
	}

	var delta *tensor.Tensor[T, B]
	if _, isSoftmax := act.(Softmax[T, B]); isSoftmax {
		// softmax + cross-entropy shortcut: dL/dz = p - y
		a := act.Apply(preOutput, true)
		delta = a.Sub(labels)
		if mask != nil && !perExample {
			delta = delta.Mul(mask)
		}
	} else {
		a := act.Apply(preOutput, true)
		dLda := negLikelihoodRatio(labels, a)
		if mask != nil && !perExample {
			dLda = dLda.Mul(mask)
		}
		delta = act.Backprop(preOutput, dLda)
	}

	if mask != nil && perExample {
		delta = delta.Mul(mask)
	}
	return delta, nil
}

// negLogLikelihood computes -y * log(clamp(a)) element-wise.
func negLogLikelihood[T tensor.DType, B tensor.Backend](labels, a *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	out := a.Clone()
	switch data := any(out.Data()).(type) {
	case []float32:
		y := any(labels.Data()).([]float32)
		for i, p := range data {
			data[i] = -y[i] * math32.Log(math32.Max(p, probEps))
		}
	case []float64:
		y := any(labels.Data()).([]float64)
		for i, p := range data {
			data[i] = -y[i] * math.Log(math.Max(p, probEps))
		}
	}
	return out
}

// negLikelihoodRatio computes -y / clamp(a) element-wise, the cross-entropy
// gradient with respect to the activation for non-softmax activations.
func negLikelihoodRatio[T tensor.DType, B tensor.Backend](labels, a *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	out := a.Clone()
	switch data := any(out.Data()).(type) {
	case []float32:
		y := any(labels.Data()).([]float32)
		for i, p := range data {
			data[i] = -y[i] / math32.Max(p, probEps)
		}
	case []float64:
		y := any(labels.Data()).([]float64)
		for i, p := range data {
			data[i] = -y[i] / math.Max(p, probEps)
		}
	}
	return out
}
