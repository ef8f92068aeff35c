package tensor

import (
	"fmt"
	"math"
)

// DefaultRopeTheta is the rotary base used by Llama-family models.
const DefaultRopeTheta = 10000.0

// InvFreq returns theta^(-2i/rotaryDim) for i in [0, rotaryDim/2).
func InvFreq(rotaryDim int, theta float64) []float64 {
	inv := make([]float64, rotaryDim/2)
	for i := range inv {
		inv[i] = math.Pow(theta, -float64(2*i)/float64(rotaryDim))
	}
	return inv
}

// RoPE rotates the first rotaryDim features of every vector along the last
// axis of x by angles pos*invFreq[i], pairing (x[2i], x[2i+1]). The same
// position is used for every vector; see RoPEAt for per-token positions.
func RoPE(x *Tensor, pos, rotaryDim, maxSeqLen int, theta float64) (*Tensor, error) {
	if err := checkRoPE(x, rotaryDim, maxSeqLen); err != nil {
		return nil, err
	}
	if pos < 0 || pos >= maxSeqLen {
		return nil, fmt.Errorf("%w: rope position %d, max_seq_len %d", ErrIndexOutOfRange, pos, maxSeqLen)
	}
	inv := InvFreq(rotaryDim, theta)
	out := x.Clone()
	d := x.Dim(-1)
	if d == 0 {
		return out, nil
	}
	for off := 0; off < len(out.data); off += d {
		rotate(out.data[off:off+d], pos, inv)
	}
	return out, nil
}

// RoPEAt is RoPE with per-token positions: x is laid out as [seq, ..., D]
// and every vector inside sequence slice r is rotated at startPos+r.
func RoPEAt(x *Tensor, startPos, rotaryDim, maxSeqLen int, theta float64) (*Tensor, error) {
	if err := checkRoPE(x, rotaryDim, maxSeqLen); err != nil {
		return nil, err
	}
	seq := 1
	if x.Rank() > 1 {
		seq = x.shape[0]
	}
	if startPos < 0 || (seq > 0 && startPos+seq > maxSeqLen) {
		return nil, fmt.Errorf("%w: rope positions [%d, %d), max_seq_len %d", ErrIndexOutOfRange, startPos, startPos+seq, maxSeqLen)
	}
	inv := InvFreq(rotaryDim, theta)
	out := x.Clone()
	d := x.Dim(-1)
	if seq == 0 || d == 0 {
		return out, nil
	}
	perPos := len(out.data) / seq
	for r := 0; r < seq; r++ {
		slice := out.data[r*perPos : (r+1)*perPos]
		for off := 0; off < len(slice); off += d {
			rotate(slice[off:off+d], startPos+r, inv)
		}
	}
	return out, nil
}

func checkRoPE(x *Tensor, rotaryDim, maxSeqLen int) error {
	if rotaryDim <= 0 || rotaryDim%2 != 0 {
		return fmt.Errorf("%w: rotary dim %d must be positive and even", ErrConfigInvalid, rotaryDim)
	}
	if maxSeqLen <= 0 {
		return fmt.Errorf("%w: max_seq_len %d", ErrConfigInvalid, maxSeqLen)
	}
	if rotaryDim > x.Dim(-1) {
		return fmt.Errorf("%w: rotary dim %d exceeds feature dim %d", ErrShapeMismatch, rotaryDim, x.Dim(-1))
	}
	return nil
}

// rotate applies the pairwise rotation to the leading 2*len(invFreq)
// elements of v.
func rotate(v []float32, pos int, invFreq []float64) {
	for i, f := range invFreq {
		angle := float64(pos) * f
		c := float32(math.Cos(angle))
		s := float32(math.Sin(angle))
		i0 := 2 * i
		i1 := i0 + 1
		x0 := v[i0]
		x1 := v[i1]
		v[i0] = x0*c - x1*s
		v[i1] = x1*c + x0*s
	}
}
