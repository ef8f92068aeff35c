package tensor

import "errors"

// Failures are reported by wrapping one of these sentinels, so callers can
// classify them with errors.Is.
var (
	// ErrShapeMismatch: operand shapes violate an operation's precondition.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrConfigInvalid: head counts or dimensions are inconsistent.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrIndexOutOfRange: a token id or position is outside its bound.
	ErrIndexOutOfRange = errors.New("index out of range")
)
