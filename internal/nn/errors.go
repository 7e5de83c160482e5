package nn

import "errors"

// Sentinel errors for layer operations. Callers match them with errors.Is;
// the wrapping message carries the offending ranks/shapes.
var (
	// ErrNoInputOrLabels is returned by scoring operations when input and/or
	// labels have not been set on the layer.
	ErrNoInputOrLabels = errors.New("cannot score without input and labels")

	// ErrNoInput is returned when an operation requires an input tensor and
	// none was provided or set.
	ErrNoInput = errors.New("input not set")

	// ErrUnsupportedRank is returned by rank-sensitive operations when a
	// tensor's rank does not match the operation's structural contract.
	ErrUnsupportedRank = errors.New("unsupported tensor rank")

	// ErrInvalidMask is returned when a mask is neither a per-example column
	// vector nor an exact shape match for the tensor it applies to.
	ErrInvalidMask = errors.New("invalid mask shape")

	// ErrNoSolver is returned by Fit when no solver factory was configured.
	ErrNoSolver = errors.New("no solver configured")
)
