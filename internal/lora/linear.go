// Package lora implements linear projections augmented with low-rank
// adapters: y = x·W + scale·(x·A)·B, where W is frozen and A·B is a rank-r
// update.
package lora

import (
	"fmt"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// Linear is a frozen [in, out] projection with an optional adapter.
// A is [in, rank] and B is [rank, out]. A Linear is immutable once built.
type Linear struct {
	W     *tensor.Tensor
	A     *tensor.Tensor
	B     *tensor.Tensor
	Scale float32
}

// NewLinear builds a plain projection without an adapter.
func NewLinear(w *tensor.Tensor) (*Linear, error) {
	if w == nil || w.Rank() != 2 {
		return nil, fmt.Errorf("%w: base weight must be rank 2", tensor.ErrShapeMismatch)
	}
	return &Linear{W: w, Scale: 1}, nil
}

// NewAdapted builds a projection whose output is x·w + scale·(x·a)·b.
// Shapes are validated eagerly and the rank may not exceed min(in, out).
func NewAdapted(w, a, b *tensor.Tensor, scale float32) (*Linear, error) {
	l, err := NewLinear(w)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: adapter needs both A and B", tensor.ErrConfigInvalid)
	}
	in, out := w.Dim(0), w.Dim(1)
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("%w: adapter A %v and B %v must be rank 2", tensor.ErrShapeMismatch, a.Shape(), b.Shape())
	}
	rank := a.Dim(1)
	if a.Dim(0) != in || b.Dim(0) != rank || b.Dim(1) != out {
		return nil, fmt.Errorf("%w: adapter A %v, B %v for base %v", tensor.ErrShapeMismatch, a.Shape(), b.Shape(), w.Shape())
	}
	if rank == 0 || rank > min(in, out) {
		return nil, fmt.Errorf("%w: adapter rank %d for base %v", tensor.ErrConfigInvalid, rank, w.Shape())
	}
	l.A, l.B, l.Scale = a, b, scale
	return l, nil
}

// ScaleFor returns the conventional alpha/rank adapter scale, or 1 when no
// alpha is configured.
func ScaleFor(alpha float64, rank int) float32 {
	if alpha <= 0 || rank <= 0 {
		return 1
	}
	return float32(alpha / float64(rank))
}

func (l *Linear) In() int  { return l.W.Dim(0) }
func (l *Linear) Out() int { return l.W.Dim(1) }

// Rank is the adapter rank, zero for a plain projection.
func (l *Linear) Rank() int {
	if l.A == nil {
		return 0
	}
	return l.A.Dim(1)
}

// Forward projects x of shape [n, in] to [n, out].
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	main, err := tensor.MatMul(x, l.W)
	if err != nil {
		return nil, fmt.Errorf("base projection: %w", err)
	}
	if l.A == nil {
		return main, nil
	}
	down, err := tensor.MatMul(x, l.A)
	if err != nil {
		return nil, fmt.Errorf("adapter A: %w", err)
	}
	up, err := tensor.MatMul(down, l.B)
	if err != nil {
		return nil, fmt.Errorf("adapter B: %w", err)
	}
	if l.Scale != 1 {
		up = tensor.Scale(up, l.Scale)
	}
	return tensor.Add(main, up)
}
