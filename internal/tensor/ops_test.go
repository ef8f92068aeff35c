package tensor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approx(tol float64) cmp.Option {
	return cmpopts.EquateApprox(0, tol)
}

func TestRMSNormReference(t *testing.T) {
	t.Parallel()
	x := MustNew([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	w := MustNew([]int{3}, []float32{0.1, 0.2, 0.3})

	got, err := RMSNorm(x, w, 1e-5)
	require.NoError(t, err)

	want := []float32{
		0.046291, 0.18516402, 0.41661902,
		0.07895449, 0.19738622, 0.3552952,
	}
	assert.Equal(t, []int{2, 3}, got.Shape())
	if diff := cmp.Diff(want, got.Data(), approx(1e-5)); diff != "" {
		t.Fatalf("rmsnorm mismatch (-want +got):\n%s", diff)
	}
}

func TestRMSNormUnitWeightIsPlainNormalization(t *testing.T) {
	t.Parallel()
	x := Rand(7, 4, 3, 5)
	ones := Full(1, 5)

	got, err := RMSNorm(x, ones, 1e-6)
	require.NoError(t, err)

	want := make([]float32, x.Len())
	for r := 0; r < 3; r++ {
		row := x.Data()[r*5 : (r+1)*5]
		var ss float64
		for _, v := range row {
			ss += float64(v) * float64(v)
		}
		inv := 1 / math.Sqrt(ss/5+1e-6)
		for i, v := range row {
			want[r*5+i] = float32(float64(v) * inv)
		}
	}
	if diff := cmp.Diff(want, got.Data(), approx(1e-5)); diff != "" {
		t.Fatalf("unit-weight rmsnorm mismatch (-want +got):\n%s", diff)
	}
}

func TestRMSNormWeightMismatch(t *testing.T) {
	t.Parallel()
	_, err := RMSNorm(Zeros(2, 3), Zeros(4), 1e-5)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRMSNormZeroInputStaysFinite(t *testing.T) {
	t.Parallel()
	got, err := RMSNorm(Zeros(2, 4), Full(1, 4), 1e-5)
	require.NoError(t, err)
	for _, v := range got.Data() {
		require.False(t, math.IsNaN(float64(v)))
		require.Zero(t, v)
	}
}

func TestSoftmaxReference(t *testing.T) {
	t.Parallel()
	got, err := Softmax(MustNew([]int{3}, []float32{1, 2, 3}), 0)
	require.NoError(t, err)
	want := []float32{0.09003057, 0.24472847, 0.66524096}
	if diff := cmp.Diff(want, got.Data(), approx(1e-6)); diff != "" {
		t.Fatalf("softmax mismatch (-want +got):\n%s", diff)
	}
}

func TestSoftmaxIgnoresAxisForVectors(t *testing.T) {
	t.Parallel()
	x := MustNew([]int{3}, []float32{1, 2, 3})
	a, err := Softmax(x, 0)
	require.NoError(t, err)
	b, err := Softmax(x, 4)
	require.NoError(t, err)
	assert.Equal(t, a.Data(), b.Data())
}

func TestSoftmaxSumsToOneAlongAxis(t *testing.T) {
	t.Parallel()
	x := Rand(3, 10, 2, 3, 4)

	for _, axis := range []int{0, 1, 2, -1} {
		got, err := Softmax(x, axis)
		require.NoError(t, err)

		ax := axis
		if ax < 0 {
			ax += 3
		}
		shape := x.Shape()
		strides := []int{shape[1] * shape[2], shape[2], 1}
		for i := 0; i < shape[0]; i++ {
			for j := 0; j < shape[1]; j++ {
				for k := 0; k < shape[2]; k++ {
					idx := []int{i, j, k}
					if idx[ax] != 0 {
						continue
					}
					var sum float64
					for n := 0; n < shape[ax]; n++ {
						idx[ax] = n
						sum += float64(got.Data()[idx[0]*strides[0]+idx[1]*strides[1]+idx[2]*strides[2]])
					}
					assert.InDelta(t, 1.0, sum, 1e-6, "axis %d slice (%d,%d,%d)", axis, i, j, k)
				}
			}
		}
	}
}

func TestSoftmaxShiftInvariant(t *testing.T) {
	t.Parallel()
	x := Rand(11, 6, 4, 5)
	shifted, err := Add(x, Full(3.5, 1))
	require.NoError(t, err)

	a, err := Softmax(x, -1)
	require.NoError(t, err)
	b, err := Softmax(shifted, -1)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Data(), b.Data(), approx(1e-6)); diff != "" {
		t.Fatalf("softmax not shift invariant (-orig +shifted):\n%s", diff)
	}
}

func TestSoftmaxBadAxis(t *testing.T) {
	t.Parallel()
	_, err := Softmax(Zeros(2, 2), 2)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSiLU(t *testing.T) {
	t.Parallel()
	got := SiLU(MustNew([]int{3}, []float32{-1, 0, 1}))
	want := []float32{-0.26894142, 0, 0.7310586}
	if diff := cmp.Diff(want, got.Data(), approx(1e-6)); diff != "" {
		t.Fatalf("silu mismatch (-want +got):\n%s", diff)
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		op    func(a, b *Tensor) (*Tensor, error)
		a, b  *Tensor
		shape []int
		want  []float32
	}{
		{
			name:  "add same shape",
			op:    Add,
			a:     MustNew([]int{2, 2}, []float32{1, 2, 3, 4}),
			b:     MustNew([]int{2, 2}, []float32{10, 20, 30, 40}),
			shape: []int{2, 2},
			want:  []float32{11, 22, 33, 44},
		},
		{
			name:  "add row vector",
			op:    Add,
			a:     MustNew([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6}),
			b:     MustNew([]int{3}, []float32{10, 20, 30}),
			shape: []int{2, 3},
			want:  []float32{11, 22, 33, 14, 25, 36},
		},
		{
			name:  "mul column by row",
			op:    Mul,
			a:     MustNew([]int{2, 1}, []float32{1, 2}),
			b:     MustNew([]int{1, 3}, []float32{1, 10, 100}),
			shape: []int{2, 3},
			want:  []float32{1, 10, 100, 2, 20, 200},
		},
		{
			name:  "mul scalar-like",
			op:    Mul,
			a:     MustNew([]int{1}, []float32{2}),
			b:     MustNew([]int{2, 2, 1}, []float32{1, 2, 3, 4}),
			shape: []int{2, 2, 1},
			want:  []float32{2, 4, 6, 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, got.Shape())
			assert.Equal(t, tt.want, got.Data())
		})
	}
}

func TestBroadcastIncompatible(t *testing.T) {
	t.Parallel()
	_, err := Add(Zeros(2, 3), Zeros(2))
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = Mul(Zeros(4, 3), Zeros(2, 3))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestOperandsNotMutated(t *testing.T) {
	t.Parallel()
	x := MustNew([]int{2, 2}, []float32{1, 2, 3, 4})
	before := x.Clone()

	_, err := Softmax(x, -1)
	require.NoError(t, err)
	_, err = RoPE(x, 3, 2, 8, DefaultRopeTheta)
	require.NoError(t, err)
	_ = SiLU(x)
	_ = Scale(x, 2)

	assert.Equal(t, before.Data(), x.Data())
}
