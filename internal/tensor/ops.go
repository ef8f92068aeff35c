package tensor

import (
	"fmt"
	"math"
)

// Add returns a+b with NumPy-style broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return broadcast(a, b, "add", func(x, y float32) float32 { return x + y })
}

// Mul returns the elementwise product a*b with NumPy-style broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return broadcast(a, b, "mul", func(x, y float32) float32 { return x * y })
}

// Scale returns t*s.
func Scale(t *Tensor, s float32) *Tensor {
	out := Zeros(t.shape...)
	for i, v := range t.data {
		out.data[i] = v * s
	}
	return out
}

// SiLU applies x / (1 + exp(-x)) elementwise.
func SiLU(t *Tensor) *Tensor {
	out := Zeros(t.shape...)
	for i, v := range t.data {
		out.data[i] = Silu(v)
	}
	return out
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// RMSNorm normalizes every vector along the last axis of x by its root mean
// square and multiplies by weight, which must match the last axis length.
func RMSNorm(x, weight *Tensor, eps float32) (*Tensor, error) {
	d := x.Dim(-1)
	if weight.Rank() != 1 || weight.shape[0] != d {
		return nil, fmt.Errorf("%w: rmsnorm weight %v for input %v", ErrShapeMismatch, weight.shape, x.shape)
	}
	out := Zeros(x.shape...)
	if d == 0 {
		return out, nil
	}
	for off := 0; off < len(x.data); off += d {
		rmsNormRow(out.data[off:off+d], x.data[off:off+d], weight.data, eps)
	}
	return out, nil
}

// rmsNormRow writes src * 1/sqrt(mean(src²)+eps) * weight into dst.
func rmsNormRow(dst, src, weight []float32, eps float32) {
	var sum float32
	for _, v := range src {
		sum += v * v
	}
	mean := sum / float32(len(src))
	scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}

// Softmax normalizes x along axis so each slice sums to one. Negative axes
// count from the end. One-dimensional inputs are normalized as a whole
// regardless of axis.
func Softmax(x *Tensor, axis int) (*Tensor, error) {
	if x.Rank() == 1 {
		axis = 0
	}
	if axis < 0 {
		axis += x.Rank()
	}
	if axis < 0 || axis >= x.Rank() {
		return nil, fmt.Errorf("%w: softmax axis %d for shape %v", ErrShapeMismatch, axis, x.shape)
	}
	out := x.Clone()
	n := x.shape[axis]
	inner := 1
	for _, d := range x.shape[axis+1:] {
		inner *= d
	}
	if n == 0 || inner == 0 {
		return out, nil
	}
	outer := len(x.data) / (n * inner)

	if inner == 1 {
		for o := 0; o < outer; o++ {
			softmaxInPlace(out.data[o*n : (o+1)*n])
		}
		return out, nil
	}

	buf := make([]float32, n)
	for o := 0; o < outer; o++ {
		base := o * n * inner
		for in := 0; in < inner; in++ {
			for i := range n {
				buf[i] = out.data[base+i*inner+in]
			}
			softmaxInPlace(buf)
			for i := range n {
				out.data[base+i*inner+in] = buf[i]
			}
		}
	}
	return out, nil
}

// softmaxInPlace applies a numerically stable softmax to x.
func softmaxInPlace(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// SoftmaxRows applies softmax to consecutive length-n rows of x in place.
// It is the slice-level kernel behind Softmax for callers that already own
// a scratch buffer.
func SoftmaxRows(x []float32, n int) {
	if n <= 0 {
		return
	}
	for off := 0; off+n <= len(x); off += n {
		softmaxInPlace(x[off : off+n])
	}
}

func broadcast(a, b *Tensor, op string, f func(x, y float32) float32) (*Tensor, error) {
	if sameShape(a.shape, b.shape) {
		out := Zeros(a.shape...)
		for i := range a.data {
			out.data[i] = f(a.data[i], b.data[i])
		}
		return out, nil
	}

	shape, err := broadcastShape(a.shape, b.shape)
	if err != nil {
		return nil, fmt.Errorf("%s %v and %v: %w", op, a.shape, b.shape, err)
	}
	out := Zeros(shape...)
	if len(out.data) == 0 {
		return out, nil
	}
	sa := broadcastStrides(a.shape, shape)
	sb := broadcastStrides(b.shape, shape)

	idx := make([]int, len(shape))
	ia, ib := 0, 0
	for o := range out.data {
		out.data[o] = f(a.data[ia], b.data[ib])
		// Odometer increment, last axis fastest.
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			ia += sa[d]
			ib += sb[d]
			if idx[d] < shape[d] {
				break
			}
			ia -= sa[d] * shape[d]
			ib -= sb[d] * shape[d]
			idx[d] = 0
		}
	}
	return out, nil
}

// broadcastShape aligns trailing dimensions; size-1 dimensions stretch.
func broadcastShape(a, b []int) ([]int, error) {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := 0; i < n; i++ {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("%w: dimension %d is %d vs %d", ErrShapeMismatch, i, da, db)
		}
	}
	return out, nil
}

// broadcastStrides returns, per output axis, the element stride into an
// operand of shape in. Stretched and missing axes have stride zero.
func broadcastStrides(in, out []int) []int {
	strides := make([]int, len(out))
	stride := 1
	for i := len(in) - 1; i >= 0; i-- {
		o := len(out) - len(in) + i
		if in[i] != 1 || out[o] == 1 {
			strides[o] = stride
		}
		stride *= in[i]
	}
	return strides
}
