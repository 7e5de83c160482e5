// Package nn implements the output-layer scoring and backpropagation engine:
// forward activation, scalar and per-example loss, weight/bias gradients and
// the error signal propagated to the preceding layer, with optional
// per-example or per-output masking. RnnOutputLayer extends the same math to
// rank-3 (batch, features, time) sequence tensors.
package nn

import (
	"fmt"

	"github.com/lattice-ml/lattice/internal/dataset"
	"github.com/lattice-ml/lattice/internal/tensor"
)

// Solver applies a parameter update from a gradient. The update rule and
// its persistent state live outside this package; Fit only delegates.
type Solver[T tensor.DType, B tensor.Backend] interface {
	Step(params map[string]*Parameter[T, B], grad *Gradient[T, B])
}

// SolverFactory lazily constructs the solver bound to a layer on first Fit.
type SolverFactory[T tensor.DType, B tensor.Backend] func() Solver[T, B]

// Config configures an output layer.
type Config[T tensor.DType, B tensor.Backend] struct {
	NIn  int
	NOut int

	Activation Activation[T, B]
	Loss       Loss[T, B]

	// NoBias drops the bias term; the layer then produces no bias gradient.
	NoBias bool

	// WeightNoise optionally perturbs parameters per training pass.
	WeightNoise WeightNoise[T, B]

	// Solver is used by Fit; scoring and backprop work without one.
	Solver SolverFactory[T, B]
}

// OutputLayer is the terminal layer of a network: a linear transform
// followed by an activation, scored against labels by a loss function.
// It produces the scalar and per-example loss, the weight/bias gradients
// and the error to propagate backwards.
//
// Gradients are written into a pre-allocated arena reused across calls:
// a returned Gradient is valid until the next gradient-producing call on
// the same layer. Instances are not safe for concurrent use.
type OutputLayer[T tensor.DType, B tensor.Backend] struct {
	backend B
	cfg     Config[T, B]

	params map[string]*Parameter[T, B]
	grad   *Gradient[T, B]

	input  *tensor.Tensor[T, B]
	labels *tensor.Tensor[T, B]
	mask   *tensor.Tensor[T, B]

	// Regularization totals for the current pass, supplied by the
	// enclosing network.
	l1, l2 float64

	score  float64
	solver Solver[T, B]

	noiseParams map[string]*tensor.Tensor[T, B]

	// timeSeries marks the sequence specialization: rank-3 inputs/labels
	// are flattened along the time axis before the 2D math runs.
	timeSeries bool
}

// NewOutputLayer creates an output layer with Xavier-initialized weights
// [nIn, nOut] and a zero bias [1, nOut] unless NoBias is set.
func NewOutputLayer[T tensor.DType, B tensor.Backend](cfg Config[T, B], backend B) (*OutputLayer[T, B], error) {
	if cfg.NIn <= 0 || cfg.NOut <= 0 {
		return nil, fmt.Errorf("output layer: invalid dimensions nIn=%d nOut=%d", cfg.NIn, cfg.NOut)
	}
	if cfg.Activation == nil || cfg.Loss == nil {
		return nil, fmt.Errorf("output layer: activation and loss are required")
	}

	l := &OutputLayer[T, B]{
		backend:     backend,
		cfg:         cfg,
		params:      make(map[string]*Parameter[T, B]),
		noiseParams: make(map[string]*tensor.Tensor[T, B]),
	}

	w := Xavier[T, B](cfg.NIn, cfg.NOut, tensor.Shape{cfg.NIn, cfg.NOut}, backend)
	l.params[WeightKey] = NewParameter(WeightKey, w)

	ordered := []*Parameter[T, B]{l.params[WeightKey]}
	if !cfg.NoBias {
		b := Zeros[T, B](tensor.Shape{1, cfg.NOut}, backend)
		l.params[BiasKey] = NewParameter(BiasKey, b)
		ordered = append(ordered, l.params[BiasKey])
	}

	grad, err := NewGradient(backend, ordered)
	if err != nil {
		return nil, err
	}
	l.grad = grad
	return l, nil
}

// SetInput stores the current mini-batch input.
func (l *OutputLayer[T, B]) SetInput(input *tensor.Tensor[T, B]) {
	l.input = input
}

// SetLabels stores the current mini-batch labels.
func (l *OutputLayer[T, B]) SetLabels(labels *tensor.Tensor[T, B]) {
	l.labels = labels
}

// SetMask stores the mask applied to loss and activations. The base layer
// takes the mask as-is; the sequence adapter converts time masks first.
func (l *OutputLayer[T, B]) SetMask(mask *tensor.Tensor[T, B]) {
	l.mask = mask
}

// SetRegTerms stores the network-wide L1/L2 regularization totals for the
// current pass; ComputeGradientAndScore folds them into the cached score.
func (l *OutputLayer[T, B]) SetRegTerms(l1, l2 float64) {
	l.l1 = l1
	l.l2 = l2
}

// Input returns the stored input.
func (l *OutputLayer[T, B]) Input() *tensor.Tensor[T, B] { return l.input }

// Labels returns the stored labels.
func (l *OutputLayer[T, B]) Labels() *tensor.Tensor[T, B] { return l.labels }

// Mask returns the stored mask.
func (l *OutputLayer[T, B]) Mask() *tensor.Tensor[T, B] { return l.mask }

// Score returns the last cached scalar score.
func (l *OutputLayer[T, B]) Score() float64 { return l.score }

// Param returns a parameter by name, or nil.
func (l *OutputLayer[T, B]) Param(name string) *Parameter[T, B] { return l.params[name] }

// Params returns the layer's parameters keyed by name.
func (l *OutputLayer[T, B]) Params() map[string]*Parameter[T, B] { return l.params }

// Gradient returns the layer's gradient arena.
func (l *OutputLayer[T, B]) Gradient() *Gradient[T, B] { return l.grad }

// Clear drops references to the current batch's input, labels, mask and the
// lazily built solver, so tensors from a prior run can be collected.
func (l *OutputLayer[T, B]) Clear() {
	l.input = nil
	l.labels = nil
	l.mask = nil
	l.solver = nil
	l.score = 0
	clear(l.noiseParams)
}

// ClearNoise drops the cached noise-perturbed parameters for this pass.
func (l *OutputLayer[T, B]) ClearNoise() {
	clear(l.noiseParams)
}

// paramWithNoise returns the parameter value, perturbed by the configured
// weight noise. During training the perturbed tensor is cached so forward
// and backward see identical values within one pass.
func (l *OutputLayer[T, B]) paramWithNoise(key string, training bool) *tensor.Tensor[T, B] {
	p := l.params[key].Value()
	if l.cfg.WeightNoise == nil {
		return p
	}
	if cached, ok := l.noiseParams[key]; ok {
		return cached
	}
	noisy := l.cfg.WeightNoise.Apply(p, training)
	if training {
		l.noiseParams[key] = noisy
	}
	return noisy
}

// input2d returns the stored input in 2D form, flattening rank-3 sequence
// input when the layer is the sequence specialization. The stored input is
// never modified.
func (l *OutputLayer[T, B]) input2d() (*tensor.Tensor[T, B], error) {
	if l.input == nil {
		return nil, fmt.Errorf("%w: output layer has no input", ErrNoInput)
	}
	if l.timeSeries && l.input.Rank() == 3 {
		return Reshape3dTo2d(l.input)
	}
	if l.input.Rank() != 2 {
		return nil, fmt.Errorf("%w: expected rank 2 input, got rank %d (shape %v)",
			ErrUnsupportedRank, l.input.Rank(), l.input.Shape())
	}
	return l.input, nil
}

// preOutput2d computes the 2D pre-activation x*W + b from the stored input.
func (l *OutputLayer[T, B]) preOutput2d(training bool) (*tensor.Tensor[T, B], error) {
	in2d, err := l.input2d()
	if err != nil {
		return nil, err
	}
	w := l.paramWithNoise(WeightKey, training)
	pre := in2d.MatMul(w)
	if _, ok := l.params[BiasKey]; ok {
		pre = pre.Add(l.paramWithNoise(BiasKey, training))
	}
	return pre, nil
}

// labels2d returns the stored labels in 2D form. The sequence adapter
// flattens rank-3 labels time-aware; the generic base case collapses the
// trailing axis into the batch axis by plain reshape.
func (l *OutputLayer[T, B]) labels2d() (*tensor.Tensor[T, B], error) {
	if l.labels == nil {
		return nil, fmt.Errorf("%w: output layer has no labels", ErrNoInputOrLabels)
	}
	if l.labels.Rank() <= 2 {
		return l.labels, nil
	}
	if l.timeSeries {
		return Reshape3dTo2d(l.labels)
	}
	s := l.labels.Shape()
	return l.labels.Reshape(s[0]*s[2], s[1]), nil
}

// ComputeScore computes the scalar loss for the current (input, labels):
// (lossSum + l1 + l2) / batchSize. The result is cached and returned; on a
// state error the cached score is left untouched.
func (l *OutputLayer[T, B]) ComputeScore(l1, l2 float64, training bool) (float64, error) {
	if l.input == nil || l.labels == nil {
		return 0, fmt.Errorf("%w (input set: %v, labels set: %v)",
			ErrNoInputOrLabels, l.input != nil, l.labels != nil)
	}
	pre, err := l.preOutput2d(training)
	if err != nil {
		return 0, err
	}
	labels, err := l.labels2d()
	if err != nil {
		return 0, err
	}
	sum, err := l.cfg.Loss.Score(labels, pre, l.cfg.Activation, l.mask, false)
	if err != nil {
		return 0, err
	}
	score := (sum + l1 + l2) / float64(l.input.Shape()[0])
	l.score = score
	return score, nil
}

// ComputeScoreForExamples computes the per-example loss as a column vector
// [batch, 1], without batch averaging. The regularization total l1+l2 is
// added to every entry only when it is non-zero.
func (l *OutputLayer[T, B]) ComputeScoreForExamples(l1, l2 float64) (*tensor.Tensor[T, B], error) {
	if l.input == nil || l.labels == nil {
		return nil, fmt.Errorf("%w (input set: %v, labels set: %v)",
			ErrNoInputOrLabels, l.input != nil, l.labels != nil)
	}
	pre, err := l.preOutput2d(false)
	if err != nil {
		return nil, err
	}
	labels, err := l.labels2d()
	if err != nil {
		return nil, err
	}
	sa, err := l.cfg.Loss.ScoreArray(labels, pre, l.cfg.Activation, l.mask)
	if err != nil {
		return nil, err
	}
	if l1+l2 != 0 {
		sa = sa.AddScalar(l1 + l2)
	}
	return sa, nil
}

// ComputeGradientAndScore fills the gradient arena and recomputes the
// cached score with the stored regularization terms. When input or labels
// are unset it is a benign no-op returning (nil, 0, nil), so pipelines may
// call it speculatively.
func (l *OutputLayer[T, B]) ComputeGradientAndScore() (*Gradient[T, B], float64, error) {
	if l.input == nil || l.labels == nil {
		return nil, 0, nil
	}
	pre, err := l.preOutput2d(true)
	if err != nil {
		return nil, 0, err
	}
	grad, _, err := l.gradientAndDelta(pre)
	if err != nil {
		return nil, 0, err
	}
	score, err := l.ComputeScore(l.l1, l.l2, true)
	if err != nil {
		return nil, 0, err
	}
	return grad, score, nil
}

// BackpropGradient recomputes (gradient, delta) from the current input and
// labels and returns the error to propagate to the previous layer, shaped
// like the 2D input. The incoming error from downstream is accepted
// positionally and unused: an output layer has no downstream layer, the
// parameter exists to satisfy the generic layer backward contract.
func (l *OutputLayer[T, B]) BackpropGradient(_ *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], *Gradient[T, B], error) {
	pre, err := l.preOutput2d(true)
	if err != nil {
		return nil, nil, err
	}
	grad, delta, err := l.gradientAndDelta(pre)
	if err != nil {
		return nil, nil, err
	}
	// epsilon = delta * W^T, shape [rows, nIn]
	w := l.paramWithNoise(WeightKey, true)
	eps := tensor.New[T, B](l.backend.Gemm(delta.Raw(), w.Raw(), nil, false, true, 1, 0), l.backend)
	return eps, grad, nil
}

// gradientAndDelta computes the loss delta and writes the parameter
// gradients into the arena views: weight gradient input^T * delta via a
// fused multiply (no transposed copy), bias gradient as the column sum of
// delta. Per-example masking is applied by the loss when it computes delta
// and must not be re-applied here.
func (l *OutputLayer[T, B]) gradientAndDelta(preOut *tensor.Tensor[T, B]) (*Gradient[T, B], *tensor.Tensor[T, B], error) {
	labels, err := l.labels2d()
	if err != nil {
		return nil, nil, err
	}
	delta, err := l.cfg.Loss.Gradient(labels, preOut, l.cfg.Activation, l.mask)
	if err != nil {
		return nil, nil, err
	}
	in2d, err := l.input2d()
	if err != nil {
		return nil, nil, err
	}

	l.backend.Gemm(in2d.Raw(), delta.Raw(), l.grad.Get(WeightKey).Raw(), true, false, 1, 0)
	if _, ok := l.params[BiasKey]; ok {
		l.backend.SumDimInto(delta.Raw(), l.grad.Get(BiasKey).Raw(), 0)
	}
	return l.grad, delta, nil
}

// ApplyMask applies the stored mask to t: a column-vector mask multiplies
// every column (zeroing whole examples), an exact-shape mask multiplies
// elementwise. Any other shape is a validation error naming both shapes.
// With no mask set, t is returned unchanged.
func (l *OutputLayer[T, B]) ApplyMask(t *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	if l.mask == nil {
		return t, nil
	}
	ms := l.mask.Shape()
	switch {
	case ms.Equal(t.Shape()):
		return t.Mul(l.mask), nil
	case ms.IsColumnVector() && t.Rank() == 2 && ms[0] == t.Shape()[0]:
		return t.Mul(l.mask), nil
	default:
		return nil, fmt.Errorf("%w: mask %v cannot be applied to tensor %v", ErrInvalidMask, ms, t.Shape())
	}
}

// Output sets the input and computes the forward activation.
func (l *OutputLayer[T, B]) Output(input *tensor.Tensor[T, B], training bool) (*tensor.Tensor[T, B], error) {
	if input == nil {
		return nil, fmt.Errorf("%w: nil input to output", ErrNoInput)
	}
	l.SetInput(input)
	return l.Activate(training)
}

// Activate computes the forward activation from the stored input and
// applies the mask, if any, to the result.
func (l *OutputLayer[T, B]) Activate(training bool) (*tensor.Tensor[T, B], error) {
	pre, err := l.preOutput2d(training)
	if err != nil {
		return nil, err
	}
	return l.ApplyMask(l.cfg.Activation.Apply(pre, training))
}

// Fit runs one gradient step on a single (input, labels) pair, lazily
// constructing the configured solver on first use.
func (l *OutputLayer[T, B]) Fit(input, labels *tensor.Tensor[T, B]) error {
	if input == nil || labels == nil {
		return fmt.Errorf("%w: fit requires input and labels", ErrNoInput)
	}
	if l.solver == nil {
		if l.cfg.Solver == nil {
			return fmt.Errorf("%w: set Config.Solver before calling Fit", ErrNoSolver)
		}
		l.solver = l.cfg.Solver()
	}
	l.SetInput(input)
	l.SetLabels(labels)
	grad, _, err := l.ComputeGradientAndScore()
	if err != nil {
		return err
	}
	l.solver.Step(l.params, grad)
	return nil
}

// FitUnlabeled is a no-op: an output layer cannot train without targets.
func (l *OutputLayer[T, B]) FitUnlabeled(_ *tensor.Tensor[T, B]) error {
	return nil
}

// FitDataSet fits a single feature/label pair.
func (l *OutputLayer[T, B]) FitDataSet(ds *dataset.DataSet[T, B]) error {
	return l.Fit(ds.Features, ds.Labels)
}

// FitIterator fits every pair the iterator yields, in order.
func (l *OutputLayer[T, B]) FitIterator(it dataset.Iterator[T, B]) error {
	for it.HasNext() {
		ds, err := it.Next()
		if err != nil {
			return err
		}
		if err := l.FitDataSet(ds); err != nil {
			return err
		}
	}
	return nil
}
