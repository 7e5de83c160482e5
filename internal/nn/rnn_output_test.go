package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ml/lattice/internal/backend/cpu"
	"github.com/lattice-ml/lattice/internal/nn"
	"github.com/lattice-ml/lattice/internal/tensor"
)

func newTestRnnLayer(t *testing.T, backend be, nIn, nOut int) *nn.RnnOutputLayer[float32, be] {
	t.Helper()
	layer, err := nn.NewRnnOutputLayer(nn.Config[float32, be]{
		NIn:        nIn,
		NOut:       nOut,
		Activation: nn.Sigmoid[float32, be]{},
		Loss:       nn.MSE[float32, be]{},
	}, backend)
	require.NoError(t, err)
	return layer
}

// timeSlice extracts the (B, F) slice at time step from a (B, F, T) tensor.
func timeSlice(t *testing.T, backend be, x *tensor.Tensor[float32, be], step int) *tensor.Tensor[float32, be] {
	t.Helper()
	s := x.Shape()
	out := tensor.Zeros[float32](tensor.Shape{s[0], s[1]}, backend)
	for b := 0; b < s[0]; b++ {
		for f := 0; f < s[1]; f++ {
			out.Set(x.At(b, f, step), b, f)
		}
	}
	return out
}

func TestFlattenRoundTrip(t *testing.T) {
	backend := cpu.New()
	x := tensor.Randn[float32](tensor.Shape{2, 3, 4}, backend)

	flat, err := nn.Reshape3dTo2d(x)
	require.NoError(t, err)
	require.True(t, flat.Shape().Equal(tensor.Shape{8, 3}))

	// row i of the flat matrix holds (batch i/T, time i%T)
	for b := 0; b < 2; b++ {
		for f := 0; f < 3; f++ {
			for ts := 0; ts < 4; ts++ {
				assert.Equal(t, x.At(b, f, ts), flat.At(b*4+ts, f),
					"flat[%d,%d] should be x[%d,%d,%d]", b*4+ts, f, b, f, ts)
			}
		}
	}

	back, err := nn.Reshape2dTo3d(flat, 2)
	require.NoError(t, err)
	require.True(t, back.Shape().Equal(x.Shape()))
	assert.Equal(t, x.Data(), back.Data(), "round trip must be exact")
}

func TestFlattenRankErrors(t *testing.T) {
	backend := cpu.New()

	_, err := nn.Reshape3dTo2d(tensor.Randn[float32](tensor.Shape{2, 3}, backend))
	require.ErrorIs(t, err, nn.ErrUnsupportedRank)

	_, err = nn.Reshape2dTo3d(tensor.Randn[float32](tensor.Shape{2, 3, 4}, backend), 2)
	require.ErrorIs(t, err, nn.ErrUnsupportedRank)

	// rows not divisible by batch
	_, err = nn.Reshape2dTo3d(tensor.Randn[float32](tensor.Shape{7, 3}, backend), 2)
	require.ErrorIs(t, err, nn.ErrUnsupportedRank)
}

func TestTimeSeriesMaskConversion(t *testing.T) {
	backend := cpu.New()
	layer := newTestRnnLayer(t, backend, 3, 2)

	t.Run("rank 2 becomes flat column", func(t *testing.T) {
		mask := ts32(t, backend, []float32{1, 1, 0, 1, 0, 0}, tensor.Shape{2, 3})
		require.NoError(t, layer.SetMask(mask))
		got := layer.Mask()
		require.True(t, got.Shape().Equal(tensor.Shape{6, 1}))
		// (b, t) lands at row b*T + t
		for b := 0; b < 2; b++ {
			for ts := 0; ts < 3; ts++ {
				assert.Equal(t, mask.At(b, ts), got.At(b*3+ts, 0))
			}
		}
	})

	t.Run("rank 3 flattened like activations", func(t *testing.T) {
		mask := tensor.Ones[float32](tensor.Shape{2, 2, 3}, backend)
		require.NoError(t, layer.SetMask(mask))
		require.True(t, layer.Mask().Shape().Equal(tensor.Shape{6, 2}))
	})

	t.Run("other ranks rejected", func(t *testing.T) {
		err := layer.SetMask(tensor.Ones[float32](tensor.Shape{6}, backend))
		require.ErrorIs(t, err, nn.ErrUnsupportedRank)
	})

	t.Run("nil clears", func(t *testing.T) {
		require.NoError(t, layer.SetMask(nil))
		assert.Nil(t, layer.Mask())
	})
}

func TestSequenceBackprop(t *testing.T) {
	backend := cpu.New()
	layer := newTestRnnLayer(t, backend, 3, 2)

	t.Run("rank 3 propagated error", func(t *testing.T) {
		input := tensor.Randn[float32](tensor.Shape{2, 3, 4}, backend)
		layer.SetInput(input)
		layer.SetLabels(tensor.Rand[float32](tensor.Shape{2, 2, 4}, backend))

		eps, grad, err := layer.BackpropGradient(nil)
		require.NoError(t, err)
		assert.True(t, eps.Shape().Equal(input.Shape()),
			"propagated error shape %v, want %v", eps.Shape(), input.Shape())
		assert.True(t, grad.Get(nn.WeightKey).Shape().Equal(tensor.Shape{3, 2}))
	})

	t.Run("rank 2 input rejected", func(t *testing.T) {
		layer.SetInput(tensor.Randn[float32](tensor.Shape{4, 3}, backend))
		layer.SetLabels(tensor.Rand[float32](tensor.Shape{4, 2}, backend))
		_, _, err := layer.BackpropGradient(nil)
		require.ErrorIs(t, err, nn.ErrUnsupportedRank)
	})
}

func TestSingleStepSequenceMatchesBase(t *testing.T) {
	backend := cpu.New()
	rnn := newTestRnnLayer(t, backend, 3, 2)
	base := newTestLayer(t, backend, 3, 2)
	copyWeights(t, base, rnn.OutputLayer)

	input3d := tensor.Randn[float32](tensor.Shape{4, 3, 1}, backend)
	labels3d := tensor.Rand[float32](tensor.Shape{4, 2, 1}, backend)
	rnn.SetInput(input3d)
	rnn.SetLabels(labels3d)

	base.SetInput(input3d.Reshape(4, 3))
	base.SetLabels(labels3d.Reshape(4, 2))

	rnnScore, err := rnn.ComputeScore(0, 0, false)
	require.NoError(t, err)
	baseScore, err := base.ComputeScore(0, 0, false)
	require.NoError(t, err)
	assert.InDelta(t, baseScore, rnnScore, 1e-6)

	rnnEps, rnnGrad, err := rnn.BackpropGradient(nil)
	require.NoError(t, err)
	baseEps, baseGrad, err := base.BackpropGradient(nil)
	require.NoError(t, err)

	assert.InDeltaSlice(t, baseGrad.Get(nn.WeightKey).Data(), rnnGrad.Get(nn.WeightKey).Data(), 1e-6)
	assert.InDeltaSlice(t, baseGrad.Get(nn.BiasKey).Data(), rnnGrad.Get(nn.BiasKey).Data(), 1e-6)
	// with T=1 the rank-3 epsilon has the same layout as the 2D one
	assert.InDeltaSlice(t, baseEps.Data(), rnnEps.Data(), 1e-6)
}

func TestSequenceScoreMatchesTimeSlices(t *testing.T) {
	backend := cpu.New()
	const (
		batch = 2
		nIn   = 3
		nOut  = 2
		steps = 4
	)

	rnn := newTestRnnLayer(t, backend, nIn, nOut)
	base := newTestLayer(t, backend, nIn, nOut)
	copyWeights(t, base, rnn.OutputLayer)

	input := tensor.Randn[float32](tensor.Shape{batch, nIn, steps}, backend)
	labels := tensor.Rand[float32](tensor.Shape{batch, nOut, steps}, backend)
	mask2d := ts32(t, backend, []float32{1, 1, 0, 1, 0, 1, 1, 0}, tensor.Shape{batch, steps})

	rnn.SetInput(input)
	rnn.SetLabels(labels)
	require.NoError(t, rnn.SetMask(mask2d))

	perExample, err := rnn.ComputeScoreForExamples(0, 0)
	require.NoError(t, err)
	require.True(t, perExample.Shape().Equal(tensor.Shape{batch, 1}))

	// each example's score is the sum of its per-time-step scores
	want := make([]float64, batch)
	for ts := 0; ts < steps; ts++ {
		base.SetInput(timeSlice(t, backend, input, ts))
		base.SetLabels(timeSlice(t, backend, labels, ts))
		maskCol := tensor.Zeros[float32](tensor.Shape{batch, 1}, backend)
		for b := 0; b < batch; b++ {
			maskCol.Set(mask2d.At(b, ts), b, 0)
		}
		base.SetMask(maskCol)

		sliceScores, err := base.ComputeScoreForExamples(0, 0)
		require.NoError(t, err)
		for b := 0; b < batch; b++ {
			want[b] += float64(sliceScores.At(b, 0))
		}
	}

	for b := 0; b < batch; b++ {
		assert.InDelta(t, want[b], float64(perExample.At(b, 0)), 1e-4, "example %d", b)
	}
}

func TestSequenceSoftmaxOutput(t *testing.T) {
	backend := cpu.New()
	layer, err := nn.NewRnnOutputLayer(nn.Config[float32, be]{
		NIn:        3,
		NOut:       4,
		Activation: nn.Softmax[float32, be]{},
		Loss:       nn.CrossEntropy[float32, be]{},
	}, backend)
	require.NoError(t, err)

	input := tensor.Randn[float32](tensor.Shape{2, 3, 5}, backend)
	out, err := layer.Output(input, false)
	require.NoError(t, err)
	require.True(t, out.Shape().Equal(tensor.Shape{2, 4, 5}))

	// softmax is normalized per time step, not across the sequence
	for b := 0; b < 2; b++ {
		for ts := 0; ts < 5; ts++ {
			var sum float32
			for f := 0; f < 4; f++ {
				sum += out.At(b, f, ts)
			}
			assert.InDelta(t, 1, sum, 1e-5, "distribution at (batch %d, step %d)", b, ts)
		}
	}
}

func TestSequenceOutputErrors(t *testing.T) {
	backend := cpu.New()
	layer := newTestRnnLayer(t, backend, 3, 2)

	_, err := layer.Output(nil, false)
	require.ErrorIs(t, err, nn.ErrNoInput)

	_, err = layer.Output(tensor.Randn[float32](tensor.Shape{4, 3}, backend), false)
	require.ErrorIs(t, err, nn.ErrUnsupportedRank)
}

func TestSequenceActivate(t *testing.T) {
	backend := cpu.New()
	layer := newTestRnnLayer(t, backend, 3, 2)

	input := tensor.Randn[float32](tensor.Shape{2, 3, 4}, backend)
	layer.SetInput(input)

	out, err := layer.Activate(false)
	require.NoError(t, err)
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 2, 4}))
}
