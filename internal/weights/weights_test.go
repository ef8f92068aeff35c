package weights

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// writeRaw creates a safetensors file from a raw header and data blob.
func writeRaw(t *testing.T, path string, header map[string]any, data []byte) {
	t.Helper()
	hdr, err := json.Marshal(header)
	require.NoError(t, err)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	buf := append(lenBuf[:], hdr...)
	buf = append(buf, data...)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func sampleTensors() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"b.weight": tensor.MustNew([]int{2, 3}, []float32{1, -2, 3.5, 0, 0.25, -7}),
		"a.norm":   tensor.MustNew([]int{3}, []float32{1, 1, 0.5}),
	}
}

func TestWriteOpenRoundTripF32(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	in := sampleTensors()
	require.NoError(t, WriteFile(path, in, F32, map[string]string{"format": "pt"}))

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{"a.norm", "b.weight"}, f.Names())
	assert.Equal(t, "pt", f.Metadata["format"])
	for name, want := range in {
		got, err := f.Tensor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want.Shape(), got.Shape())
		assert.Equal(t, want.Data(), got.Data())
	}
	info, ok := f.Info("b.weight")
	require.True(t, ok)
	assert.Equal(t, F32, info.DType)
	assert.Equal(t, int64(24), info.End-info.Start)
}

func TestWriteOpenRoundTripHalfPrecision(t *testing.T) {
	t.Parallel()
	for _, dtype := range []string{F16, BF16} {
		t.Run(dtype, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "model.safetensors")
			in := sampleTensors()
			require.NoError(t, WriteFile(path, in, dtype, nil))

			f, err := Open(path)
			require.NoError(t, err)
			defer func() { _ = f.Close() }()
			got, err := f.Tensor("b.weight")
			require.NoError(t, err)
			// every sample value is exactly representable in both formats
			if diff := cmp.Diff(in["b.weight"].Data(), got.Data(), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
				t.Fatalf("%s round trip (-want +got):\n%s", dtype, diff)
			}
		})
	}
}

func TestHeaderIsPadded(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, WriteFile(path, sampleTensors(), F32, nil))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	n := binary.LittleEndian.Uint64(raw[:8])
	assert.Zero(t, n%8)
	assert.Equal(t, int(8+n+(6+3)*4), len(raw))
}

func TestTensorsOutliveClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, WriteFile(path, sampleTensors(), F32, nil))
	f, err := Open(path)
	require.NoError(t, err)
	got, err := f.Tensor("a.norm")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, []float32{1, 1, 0.5}, got.Data())
}

func TestMissingTensor(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, WriteFile(path, sampleTensors(), F32, nil))
	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	_, err = f.Tensor("nope")
	require.ErrorIs(t, err, ErrTensorNotFound)
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.safetensors"))
	require.Error(t, err)

	short := filepath.Join(dir, "short.safetensors")
	require.NoError(t, os.WriteFile(short, []byte{0, 0, 0, 0}, 0o644))
	_, err = Open(short)
	require.Error(t, err)

	badJSON := filepath.Join(dir, "json.safetensors")
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 5)
	require.NoError(t, os.WriteFile(badJSON, append(lenBuf[:], []byte("{not}")...), 0o644))
	_, err = Open(badJSON)
	require.Error(t, err)

	hugeHeader := filepath.Join(dir, "huge.safetensors")
	binary.LittleEndian.PutUint64(lenBuf[:], 1<<40)
	require.NoError(t, os.WriteFile(hugeHeader, lenBuf[:], 0o644))
	_, err = Open(hugeHeader)
	require.Error(t, err)

	outOfRange := filepath.Join(dir, "range.safetensors")
	writeRaw(t, outOfRange, map[string]any{
		"w": tensorHeader{DType: F32, Shape: []int{4}, DataOffsets: []int64{0, 16}},
	}, make([]byte, 8))
	_, err = Open(outOfRange)
	require.Error(t, err)
}

func TestTensorDecodeErrors(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	writeRaw(t, path, map[string]any{
		"wrong_size": tensorHeader{DType: F32, Shape: []int{3}, DataOffsets: []int64{0, 8}},
		"dtype":      tensorHeader{DType: "I8", Shape: []int{2}, DataOffsets: []int64{0, 2}},
		"neg_dim":    tensorHeader{DType: F32, Shape: []int{-1, 2}, DataOffsets: []int64{0, 0}},
	}, make([]byte, 16))

	f, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	for _, name := range f.Names() {
		_, err := f.Tensor(name)
		assert.Error(t, err, name)
	}
}

func TestEmptyTensorRoundTrip(t *testing.T) {
	t.Parallel()
	for _, dtype := range []string{F32, F16} {
		path := filepath.Join(t.TempDir(), "empty.safetensors")
		require.NoError(t, WriteFile(path, map[string]*tensor.Tensor{
			"e": tensor.Zeros(0, 3),
			"w": tensor.MustNew([]int{2}, []float32{1, 2}),
		}, dtype, nil))

		f, err := Open(path)
		require.NoError(t, err, dtype)
		got, err := f.Tensor("e")
		require.NoError(t, err, dtype)
		assert.Equal(t, []int{0, 3}, got.Shape())
		assert.Empty(t, got.Data())
		w, err := f.Tensor("w")
		require.NoError(t, err, dtype)
		assert.Equal(t, []float32{1, 2}, w.Data())
		require.NoError(t, f.Close())
	}
}

func TestWriteFileRejectsUnknownDType(t *testing.T) {
	t.Parallel()
	err := WriteFile(filepath.Join(t.TempDir(), "x.safetensors"), sampleTensors(), "F64", nil)
	require.Error(t, err)
}

func TestMapStore(t *testing.T) {
	t.Parallel()
	s := NewMapStore(sampleTensors())
	assert.Equal(t, []string{"a.norm", "b.weight"}, s.Names())
	got, err := s.Tensor("a.norm")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, got.Shape())
	_, err = s.Tensor("missing")
	require.ErrorIs(t, err, ErrTensorNotFound)
}
