package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-ml/lattice/internal/backend/cpu"
	"github.com/lattice-ml/lattice/internal/dataset"
	"github.com/lattice-ml/lattice/internal/nn"
	"github.com/lattice-ml/lattice/internal/optim"
	"github.com/lattice-ml/lattice/internal/tensor"
)

func newTestLayer(t *testing.T, backend be, nIn, nOut int) *nn.OutputLayer[float32, be] {
	t.Helper()
	layer, err := nn.NewOutputLayer(nn.Config[float32, be]{
		NIn:        nIn,
		NOut:       nOut,
		Activation: nn.Sigmoid[float32, be]{},
		Loss:       nn.MSE[float32, be]{},
	}, backend)
	require.NoError(t, err)
	return layer
}

// copyWeights makes dst compute with src's parameters.
func copyWeights(t *testing.T, dst, src *nn.OutputLayer[float32, be]) {
	t.Helper()
	copy(dst.Param(nn.WeightKey).Value().Data(), src.Param(nn.WeightKey).Value().Data())
	if b := src.Param(nn.BiasKey); b != nil {
		copy(dst.Param(nn.BiasKey).Value().Data(), b.Value().Data())
	}
}

func TestNewOutputLayer(t *testing.T) {
	backend := cpu.New()

	t.Run("parameter shapes", func(t *testing.T) {
		layer := newTestLayer(t, backend, 4, 3)
		require.True(t, layer.Param(nn.WeightKey).Value().Shape().Equal(tensor.Shape{4, 3}))
		require.True(t, layer.Param(nn.BiasKey).Value().Shape().Equal(tensor.Shape{1, 3}))
	})

	t.Run("no bias", func(t *testing.T) {
		layer, err := nn.NewOutputLayer(nn.Config[float32, be]{
			NIn:        4,
			NOut:       3,
			Activation: nn.Identity[float32, be]{},
			Loss:       nn.MSE[float32, be]{},
			NoBias:     true,
		}, backend)
		require.NoError(t, err)
		assert.Nil(t, layer.Param(nn.BiasKey))
		assert.Nil(t, layer.Gradient().Get(nn.BiasKey))
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := nn.NewOutputLayer(nn.Config[float32, be]{NIn: 0, NOut: 3}, backend)
		require.Error(t, err)
	})
}

func TestComputeScoreStateError(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	input := tensor.Randn[float32](tensor.Shape{4, 3}, backend)
	labels := tensor.Rand[float32](tensor.Shape{4, 2}, backend)

	layer.SetInput(input)
	layer.SetLabels(labels)
	cached, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)

	layer.SetLabels(nil)
	_, err = layer.ComputeScore(0, 0, false)
	require.ErrorIs(t, err, nn.ErrNoInputOrLabels)

	// the failed call must not mutate the cached score
	assert.Equal(t, cached, layer.Score())

	_, err = layer.ComputeScoreForExamples(0, 0)
	require.ErrorIs(t, err, nn.ErrNoInputOrLabels)
}

func TestScoreMatchesPerExampleAverage(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	batch := 5
	layer.SetInput(tensor.Randn[float32](tensor.Shape{batch, 3}, backend))
	layer.SetLabels(tensor.Rand[float32](tensor.Shape{batch, 2}, backend))

	score, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)

	perExample, err := layer.ComputeScoreForExamples(0, 0)
	require.NoError(t, err)
	require.True(t, perExample.Shape().Equal(tensor.Shape{batch, 1}))

	assert.InDelta(t, perExample.Sum()/float64(batch), score, 1e-5)
}

func TestRegularizationTerms(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	batch := 4
	layer.SetInput(tensor.Randn[float32](tensor.Shape{batch, 3}, backend))
	layer.SetLabels(tensor.Rand[float32](tensor.Shape{batch, 2}, backend))

	plain, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)

	// scalar score: (lossSum + l1 + l2) / batch
	reg, err := layer.ComputeScore(1.5, 0.5, false)
	require.NoError(t, err)
	assert.InDelta(t, plain+2.0/float64(batch), reg, 1e-5)

	// per-example: l1+l2 added to every entry
	plainPer, err := layer.ComputeScoreForExamples(0, 0)
	require.NoError(t, err)
	regPer, err := layer.ComputeScoreForExamples(1.5, 0.5)
	require.NoError(t, err)
	for i := 0; i < batch; i++ {
		assert.InDelta(t, plainPer.At(i, 0)+2.0, regPer.At(i, 0), 1e-5)
	}
}

func TestBackpropGradientShapes(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 4, 3)

	input := tensor.Randn[float32](tensor.Shape{5, 4}, backend)
	labels := tensor.Rand[float32](tensor.Shape{5, 3}, backend)
	layer.SetInput(input)
	layer.SetLabels(labels)

	eps, grad, err := layer.BackpropGradient(nil)
	require.NoError(t, err)

	assert.True(t, eps.Shape().Equal(input.Shape()), "propagated error shape %v, want %v", eps.Shape(), input.Shape())
	assert.True(t, grad.Get(nn.WeightKey).Shape().Equal(tensor.Shape{4, 3}))
	assert.True(t, grad.Get(nn.BiasKey).Shape().Equal(tensor.Shape{1, 3}))
}

func TestBiasGradientIsColumnSumOfDelta(t *testing.T) {
	backend := cpu.New()
	layer, err := nn.NewOutputLayer(nn.Config[float32, be]{
		NIn:        2,
		NOut:       2,
		Activation: nn.Identity[float32, be]{},
		Loss:       nn.MSE[float32, be]{},
	}, backend)
	require.NoError(t, err)

	// zero weights and bias: preOut = 0, so delta = 2*(0 - y)/nOut = -y
	w := layer.Param(nn.WeightKey).Value().Data()
	for i := range w {
		w[i] = 0
	}

	layer.SetInput(ts32(t, backend, []float32{1, 2, 3, 4}, tensor.Shape{2, 2}))
	layer.SetLabels(ts32(t, backend, []float32{1, 0, 0, 1}, tensor.Shape{2, 2}))

	_, grad, err := layer.BackpropGradient(nil)
	require.NoError(t, err)

	b := grad.Get(nn.BiasKey)
	assert.InDelta(t, -1, b.At(0, 0), 1e-6)
	assert.InDelta(t, -1, b.At(0, 1), 1e-6)
}

func TestOnesMaskIsIdentity(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	layer.SetInput(tensor.Randn[float32](tensor.Shape{4, 3}, backend))
	layer.SetLabels(tensor.Rand[float32](tensor.Shape{4, 2}, backend))

	score, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)
	_, grad, err := layer.BackpropGradient(nil)
	require.NoError(t, err)
	wGrad := grad.Get(nn.WeightKey).Clone()

	layer.SetMask(tensor.Ones[float32](tensor.Shape{4, 1}, backend))
	maskedScore, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)
	_, maskedGrad, err := layer.BackpropGradient(nil)
	require.NoError(t, err)

	assert.InDelta(t, score, maskedScore, 1e-6)
	assert.InDeltaSlice(t, wGrad.Data(), maskedGrad.Get(nn.WeightKey).Data(), 1e-6)
}

func TestZeroMaskRowsContributeNothing(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	input := tensor.Randn[float32](tensor.Shape{5, 3}, backend)
	labels := tensor.Rand[float32](tensor.Shape{5, 2}, backend)
	layer.SetInput(input)
	layer.SetLabels(labels)
	// zero out examples 0 and 1
	layer.SetMask(ts32(t, backend, []float32{0, 0, 1, 1, 1}, tensor.Shape{5, 1}))

	maskedScore, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)
	_, maskedGrad, err := layer.BackpropGradient(nil)
	require.NoError(t, err)
	maskedW := maskedGrad.Get(nn.WeightKey).Clone()

	// the same computation over only the surviving rows
	sub := newTestLayer(t, backend, 3, 2)
	copyWeights(t, sub, layer)
	subInput := tensor.Zeros[float32](tensor.Shape{3, 3}, backend)
	subLabels := tensor.Zeros[float32](tensor.Shape{3, 2}, backend)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			subInput.Set(input.At(r+2, c), r, c)
		}
		for c := 0; c < 2; c++ {
			subLabels.Set(labels.At(r+2, c), r, c)
		}
	}
	sub.SetInput(subInput)
	sub.SetLabels(subLabels)

	subScore, err := sub.ComputeScore(0, 0, false)
	require.NoError(t, err)
	_, subGrad, err := sub.BackpropGradient(nil)
	require.NoError(t, err)

	// loss sums match up to the different batch divisor
	assert.InDelta(t, subScore*3, maskedScore*5, 1e-4)
	assert.InDeltaSlice(t, subGrad.Get(nn.WeightKey).Data(), maskedW.Data(), 1e-5)
}

func TestApplyMaskValidation(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	layer.SetMask(ts32(t, backend, []float32{1, 1, 1, 1, 1, 1}, tensor.Shape{3, 2}))
	_, err := layer.ApplyMask(tensor.Ones[float32](tensor.Shape{4, 2}, backend))
	require.ErrorIs(t, err, nn.ErrInvalidMask)
}

func TestOutputArgumentError(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	_, err := layer.Output(nil, false)
	require.ErrorIs(t, err, nn.ErrNoInput)
}

func TestComputeGradientAndScoreNoOp(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	// speculative call with no state set is a benign no-op
	grad, score, err := layer.ComputeGradientAndScore()
	require.NoError(t, err)
	assert.Nil(t, grad)
	assert.Zero(t, score)
}

func TestGradientArenaReuse(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	layer.SetInput(tensor.Randn[float32](tensor.Shape{4, 3}, backend))
	layer.SetLabels(tensor.Rand[float32](tensor.Shape{4, 2}, backend))

	_, g1, err := layer.BackpropGradient(nil)
	require.NoError(t, err)
	_, g2, err := layer.BackpropGradient(nil)
	require.NoError(t, err)

	// same arena handed out across calls
	assert.Same(t, g1, g2)
	assert.Same(t, g1.Get(nn.WeightKey), g2.Get(nn.WeightKey))
}

func TestWeightNoise(t *testing.T) {
	backend := cpu.New()
	layer, err := nn.NewOutputLayer(nn.Config[float32, be]{
		NIn:         3,
		NOut:        2,
		Activation:  nn.Sigmoid[float32, be]{},
		Loss:        nn.MSE[float32, be]{},
		WeightNoise: nn.GaussianWeightNoise[float32, be]{StdDev: 0.5},
	}, backend)
	require.NoError(t, err)

	layer.SetInput(tensor.Randn[float32](tensor.Shape{4, 3}, backend))
	layer.SetLabels(tensor.Rand[float32](tensor.Shape{4, 2}, backend))

	// inference passes see the unperturbed parameters
	s1, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)
	s2, err := layer.ComputeScore(0, 0, false)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	// within one training pass the perturbed parameters are cached
	t1, err := layer.ComputeScore(0, 0, true)
	require.NoError(t, err)
	t2, err := layer.ComputeScore(0, 0, true)
	require.NoError(t, err)
	assert.Equal(t, t1, t2)

	// clearing the cache resamples the noise
	layer.ClearNoise()
	t3, err := layer.ComputeScore(0, 0, true)
	require.NoError(t, err)
	assert.NotEqual(t, t1, t3)
}

func TestFit(t *testing.T) {
	backend := cpu.New()

	t.Run("no solver configured", func(t *testing.T) {
		layer := newTestLayer(t, backend, 3, 2)
		err := layer.Fit(
			tensor.Randn[float32](tensor.Shape{4, 3}, backend),
			tensor.Rand[float32](tensor.Shape{4, 2}, backend),
		)
		require.ErrorIs(t, err, nn.ErrNoSolver)
	})

	t.Run("updates parameters", func(t *testing.T) {
		layer, err := nn.NewOutputLayer(nn.Config[float32, be]{
			NIn:        3,
			NOut:       2,
			Activation: nn.Sigmoid[float32, be]{},
			Loss:       nn.MSE[float32, be]{},
			Solver:     optim.Solver[float32, be](optim.Config{LR: 0.1}),
		}, backend)
		require.NoError(t, err)

		before := layer.Param(nn.WeightKey).Value().Clone()
		err = layer.Fit(
			tensor.Randn[float32](tensor.Shape{4, 3}, backend),
			tensor.Rand[float32](tensor.Shape{4, 2}, backend),
		)
		require.NoError(t, err)
		assert.NotEqual(t, before.Data(), layer.Param(nn.WeightKey).Value().Data())
	})

	t.Run("unlabeled is a no-op", func(t *testing.T) {
		layer := newTestLayer(t, backend, 3, 2)
		before := layer.Param(nn.WeightKey).Value().Clone()
		require.NoError(t, layer.FitUnlabeled(tensor.Randn[float32](tensor.Shape{4, 3}, backend)))
		assert.Equal(t, before.Data(), layer.Param(nn.WeightKey).Value().Data())
	})

	t.Run("iterator", func(t *testing.T) {
		layer, err := nn.NewOutputLayer(nn.Config[float32, be]{
			NIn:        3,
			NOut:       2,
			Activation: nn.Sigmoid[float32, be]{},
			Loss:       nn.MSE[float32, be]{},
			Solver:     optim.Solver[float32, be](optim.Config{LR: 0.1}),
		}, backend)
		require.NoError(t, err)

		it := dataset.NewSliceIterator(
			dataset.New(
				tensor.Randn[float32](tensor.Shape{4, 3}, backend),
				tensor.Rand[float32](tensor.Shape{4, 2}, backend),
			),
			dataset.New(
				tensor.Randn[float32](tensor.Shape{4, 3}, backend),
				tensor.Rand[float32](tensor.Shape{4, 2}, backend),
			),
		)
		require.NoError(t, layer.FitIterator(it))
		assert.False(t, it.HasNext())
	})
}

func TestClear(t *testing.T) {
	backend := cpu.New()
	layer := newTestLayer(t, backend, 3, 2)

	layer.SetInput(tensor.Randn[float32](tensor.Shape{4, 3}, backend))
	layer.SetLabels(tensor.Rand[float32](tensor.Shape{4, 2}, backend))
	layer.SetMask(tensor.Ones[float32](tensor.Shape{4, 1}, backend))

	layer.Clear()
	assert.Nil(t, layer.Input())
	assert.Nil(t, layer.Labels())
	assert.Nil(t, layer.Mask())
}
