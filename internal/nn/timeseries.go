package nn

import (
	"fmt"

	"github.com/lattice-ml/lattice/internal/tensor"
)

// Time-series reshaping. A rank-3 activations tensor is laid out
// (batch, features, time); the flattened rank-2 form is (batch*time,
// features) with row i holding (batch i/T, time i%T). Every conversion in
// this file uses that row order, so weights, labels and masks stay aligned
// after flattening.

// Reshape3dTo2d flattens (B, F, T) to (B*T, F).
func Reshape3dTo2d[T tensor.DType, B tensor.Backend](x *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	if x.Rank() != 3 {
		return nil, fmt.Errorf("%w: expected rank 3, got rank %d (shape %v)", ErrUnsupportedRank, x.Rank(), x.Shape())
	}
	s := x.Shape()
	// (B, F, T) -> (B, T, F) -> (B*T, F)
	return x.Transpose(0, 2, 1).Reshape(s[0]*s[2], s[1]), nil
}

// Reshape2dTo3d unflattens (B*T, F) back to (B, F, T) given the original
// batch size; F and T are inferred.
func Reshape2dTo3d[T tensor.DType, B tensor.Backend](x *tensor.Tensor[T, B], batch int) (*tensor.Tensor[T, B], error) {
	if x.Rank() != 2 {
		return nil, fmt.Errorf("%w: expected rank 2, got rank %d (shape %v)", ErrUnsupportedRank, x.Rank(), x.Shape())
	}
	s := x.Shape()
	if batch <= 0 || s[0]%batch != 0 {
		return nil, fmt.Errorf("%w: cannot split %d rows into batches of %d", ErrUnsupportedRank, s[0], batch)
	}
	tsLength := s[0] / batch
	// (B*T, F) -> (B, T, F) -> (B, F, T)
	return x.Reshape(batch, tsLength, s[1]).Transpose(0, 2, 1), nil
}

// ReshapeTimeSeriesMaskToVector converts a (B, T) time mask into the flat
// (B*T, 1) per-row column vector matching the flattened batch order.
func ReshapeTimeSeriesMaskToVector[T tensor.DType, B tensor.Backend](mask *tensor.Tensor[T, B]) (*tensor.Tensor[T, B], error) {
	if mask.Rank() != 2 {
		return nil, fmt.Errorf("%w: expected rank 2 time mask, got rank %d (shape %v)", ErrUnsupportedRank, mask.Rank(), mask.Shape())
	}
	// (b, t) lands at row b*T + t, the flattened row order.
	return mask.Reshape(mask.NumElements(), 1), nil
}

// ReshapeVectorToTimeSeries converts a flat (B*T, 1) per-row column back
// into a (B, T) matrix.
func ReshapeVectorToTimeSeries[T tensor.DType, B tensor.Backend](v *tensor.Tensor[T, B], batch int) (*tensor.Tensor[T, B], error) {
	if !v.Shape().IsColumnVector() {
		return nil, fmt.Errorf("%w: expected column vector, got shape %v", ErrUnsupportedRank, v.Shape())
	}
	rows := v.Shape()[0]
	if batch <= 0 || rows%batch != 0 {
		return nil, fmt.Errorf("%w: cannot split %d rows into batches of %d", ErrUnsupportedRank, rows, batch)
	}
	return v.Reshape(batch, rows/batch), nil
}
