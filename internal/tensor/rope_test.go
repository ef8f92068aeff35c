package tensor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoPEReference(t *testing.T) {
	t.Parallel()
	x := MustNew([]int{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8})

	got, err := RoPE(x, 1, 4, 10, DefaultRopeTheta)
	require.NoError(t, err)

	want := []float32{
		-1.1426396, 1.9220755, 2.9598508, 4.0297995,
		-2.3473144, 7.449168, 6.9196515, 8.069599,
	}
	if diff := cmp.Diff(want, got.Data(), approx(1e-5)); diff != "" {
		t.Fatalf("rope mismatch (-want +got):\n%s", diff)
	}
}

func TestRoPEPreservesPairNorms(t *testing.T) {
	t.Parallel()
	x := Rand(5, 6, 3, 8)

	got, err := RoPE(x, 17, 8, 64, DefaultRopeTheta)
	require.NoError(t, err)

	in, out := x.Data(), got.Data()
	for i := 0; i < len(in); i += 2 {
		before := float64(in[i])*float64(in[i]) + float64(in[i+1])*float64(in[i+1])
		after := float64(out[i])*float64(out[i]) + float64(out[i+1])*float64(out[i+1])
		assert.InDelta(t, before, after, 1e-5, "pair at %d", i)
	}
}

func TestRoPEPartialRotaryDim(t *testing.T) {
	t.Parallel()
	x := Rand(9, 2, 2, 6)

	got, err := RoPE(x, 3, 4, 16, DefaultRopeTheta)
	require.NoError(t, err)

	for r := 0; r < 2; r++ {
		in := x.Data()[r*6 : (r+1)*6]
		out := got.Data()[r*6 : (r+1)*6]
		assert.Equal(t, in[4:], out[4:], "row %d tail must pass through", r)
		assert.NotEqual(t, in[:4], out[:4], "row %d head must rotate", r)
	}
}

func TestRoPEErrors(t *testing.T) {
	t.Parallel()
	x := Zeros(2, 4)

	_, err := RoPE(x, 10, 4, 10, DefaultRopeTheta)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = RoPE(x, -1, 4, 10, DefaultRopeTheta)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = RoPE(x, 0, 3, 10, DefaultRopeTheta)
	require.ErrorIs(t, err, ErrConfigInvalid)

	_, err = RoPE(x, 0, 6, 10, DefaultRopeTheta)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRoPEAtUsesPerTokenPositions(t *testing.T) {
	t.Parallel()
	x := MustNew([]int{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8})

	got, err := RoPEAt(x, 0, 4, 10, DefaultRopeTheta)
	require.NoError(t, err)

	// Position 0 is the identity rotation.
	assert.Equal(t, []float32{1, 2, 3, 4}, got.Data()[:4])

	row1 := MustNew([]int{4}, []float32{5, 6, 7, 8})
	want, err := RoPE(row1, 1, 4, 10, DefaultRopeTheta)
	require.NoError(t, err)
	if diff := cmp.Diff(want.Data(), got.Data()[4:], approx(1e-6)); diff != "" {
		t.Fatalf("row 1 should rotate at position 1 (-want +got):\n%s", diff)
	}
}

func TestRoPEAtSharesPositionAcrossHeads(t *testing.T) {
	t.Parallel()
	// [seq=2, heads=2, dim=4]: both heads of a token share its position.
	x := Rand(21, 2, 2, 2, 4)

	got, err := RoPEAt(x, 5, 4, 16, DefaultRopeTheta)
	require.NoError(t, err)

	for tok := 0; tok < 2; tok++ {
		for h := 0; h < 2; h++ {
			off := (tok*2 + h) * 4
			vec := MustNew([]int{4}, append([]float32(nil), x.Data()[off:off+4]...))
			want, err := RoPE(vec, 5+tok, 4, 16, DefaultRopeTheta)
			require.NoError(t, err)
			if diff := cmp.Diff(want.Data(), got.Data()[off:off+4], approx(1e-6)); diff != "" {
				t.Fatalf("token %d head %d (-want +got):\n%s", tok, h, diff)
			}
		}
	}
}

func TestRoPEAtBounds(t *testing.T) {
	t.Parallel()
	_, err := RoPEAt(Zeros(4, 2), 7, 2, 10, DefaultRopeTheta)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = RoPEAt(Zeros(4, 2), 6, 2, 10, DefaultRopeTheta)
	require.NoError(t, err)
}

func TestInvFreq(t *testing.T) {
	t.Parallel()
	inv := InvFreq(4, DefaultRopeTheta)
	require.Len(t, inv, 2)
	assert.InDelta(t, 1.0, inv[0], 1e-12)
	assert.InDelta(t, math.Pow(DefaultRopeTheta, -0.5), inv[1], 1e-12)
}
