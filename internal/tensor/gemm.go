package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// MatMul computes the dense product a·b of two rank-2 tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("%w: matmul needs rank-2 operands, got %v and %v", ErrShapeMismatch, a.shape, b.shape)
	}
	m, k := a.shape[0], a.shape[1]
	if b.shape[0] != k {
		return nil, fmt.Errorf("%w: matmul inner dims %v x %v", ErrShapeMismatch, a.shape, b.shape)
	}
	n := b.shape[1]
	out := Zeros(m, n)
	Gemm(out.data, a.data, b.data, m, k, n, false)
	return out, nil
}

// Gemm writes the m×n product of the row-major m×k matrix a and b into c,
// overwriting it. When transB is set, b is stored as n×k and used
// transposed. Slice lengths are the caller's responsibility.
func Gemm(c, a, b []float32, m, k, n int, transB bool) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(c[:m*n])
		return
	}
	tB := blas.NoTrans
	bg := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if transB {
		tB = blas.Trans
		bg = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	blas32.Gemm(blas.NoTrans, tB, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		bg,
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// Transpose returns the transpose of a rank-2 tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if t.Rank() != 2 {
		return nil, fmt.Errorf("%w: transpose of rank-%d tensor", ErrShapeMismatch, t.Rank())
	}
	r, c := t.shape[0], t.shape[1]
	out := Zeros(c, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[j*r+i] = t.data[i*c+j]
		}
	}
	return out, nil
}

// SwapLeading swaps the first two axes of a rank-3 tensor, turning
// [a, b, c] into [b, a, c]. Attention uses it to move between token-major
// and head-major layouts.
func SwapLeading(t *Tensor) (*Tensor, error) {
	if t.Rank() != 3 {
		return nil, fmt.Errorf("%w: swap leading axes of rank-%d tensor", ErrShapeMismatch, t.Rank())
	}
	a, b, c := t.shape[0], t.shape[1], t.shape[2]
	out := Zeros(b, a, c)
	for i := 0; i < a; i++ {
		for j := 0; j < b; j++ {
			copy(out.data[(j*a+i)*c:(j*a+i+1)*c], t.data[(i*b+j)*c:(i*b+j+1)*c])
		}
	}
	return out, nil
}
