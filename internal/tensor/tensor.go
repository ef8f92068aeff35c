package tensor

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Tensor is a dense row-major n-dimensional array of float32 values.
//
// The shape is fixed at construction and len(data) always equals the product
// of the shape dimensions. Operations in this package never mutate their
// operands; each returns a freshly allocated Tensor.
type Tensor struct {
	shape []int
	data  []float32
}

// New wraps data in a tensor of the given shape. The data slice is owned by
// the returned tensor and must not be modified by the caller afterwards.
func New(shape []int, data []float32) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Tensor{shape: cloneInts(shape), data: data}, nil
}

// MustNew is like New but panics on error. Intended for literals in tests
// and fixed-size construction where the shape is known to be correct.
func MustNew(shape []int, data []float32) *Tensor {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// FromRows builds a rank-2 tensor from equally sized rows.
func FromRows(rows ...[]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShapeMismatch)
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrShapeMismatch, i, len(r), cols)
		}
		data = append(data, r...)
	}
	return &Tensor{shape: []int{len(rows), cols}, data: data}, nil
}

// Zeros allocates a zero-filled tensor. Negative dimensions panic, matching
// the behaviour of make.
func Zeros(shape ...int) *Tensor {
	n, err := numElements(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{shape: cloneInts(shape), data: make([]float32, n)}
}

// Full allocates a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Rand fills a new tensor with reproducible pseudo-random values in
// (-scale/2, scale/2). The same seed always yields the same tensor.
func Rand(seed int64, scale float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	rng := rand.New(rand.NewSource(seed))
	for i := range t.data {
		t.data[i] = (rng.Float32() - 0.5) * scale
	}
	return t
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return cloneInts(t.shape) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the size of axis i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data exposes the backing buffer. Callers must treat it as read-only.
func (t *Tensor) Data() []float32 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: cloneInts(t.shape), data: data}
}

// Reshape returns a copy of t with a new shape holding the same number of
// elements. A single -1 dimension is inferred from the others.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	shape = cloneInts(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d < 0:
			return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShapeMismatch, t.shape, shape)
		}
		shape[infer] = len(t.data) / known
	}
	out := t.Clone()
	if _, err := New(shape, out.data); err != nil {
		return nil, fmt.Errorf("reshape %v to %v: %w", t.shape, shape, err)
	}
	out.shape = shape
	return out, nil
}

// Row returns a copy of row i of a rank-2 tensor.
func (t *Tensor) Row(i int) ([]float32, error) {
	if len(t.shape) != 2 {
		return nil, fmt.Errorf("%w: row of rank-%d tensor", ErrShapeMismatch, len(t.shape))
	}
	if i < 0 || i >= t.shape[0] {
		return nil, fmt.Errorf("%w: row %d of %d", ErrIndexOutOfRange, i, t.shape[0])
	}
	cols := t.shape[1]
	row := make([]float32, cols)
	copy(row, t.data[i*cols:(i+1)*cols])
	return row, nil
}

// Rows gathers the given rows of a rank-2 tensor into a new
// [len(idx), cols] tensor. This is the embedding lookup.
func (t *Tensor) Rows(idx []int) (*Tensor, error) {
	if len(t.shape) != 2 {
		return nil, fmt.Errorf("%w: gather from rank-%d tensor", ErrShapeMismatch, len(t.shape))
	}
	rows, cols := t.shape[0], t.shape[1]
	out := Zeros(len(idx), cols)
	for i, r := range idx {
		if r < 0 || r >= rows {
			return nil, fmt.Errorf("%w: row %d of %d", ErrIndexOutOfRange, r, rows)
		}
		copy(out.data[i*cols:(i+1)*cols], t.data[r*cols:(r+1)*cols])
	}
	return out, nil
}

// AllClose reports whether a and b share a shape and every element pair is
// within tol.
func AllClose(a, b *Tensor, tol float64) bool {
	if !sameShape(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(float64(a.data[i])-float64(b.data[i])) > tol {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tensor%v", t.shape)
	const preview = 8
	b.WriteString("[")
	for i, v := range t.data {
		if i == preview {
			fmt.Fprintf(&b, " ...(%d more)", len(t.data)-preview)
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteString("]")
	return b.String()
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v too large", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneInts(s []int) []int {
	out := make([]int, len(s))
	copy(out, s)
	return out
}
