package weights

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// WriteFile stores tensors as a safetensors checkpoint encoded as dtype.
// Tensors are laid out in sorted name order and the header is padded to
// an 8-byte boundary.
func WriteFile(path string, tensors map[string]*tensor.Tensor, dtype string, metadata map[string]string) error {
	size, err := dtypeSize(dtype)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == metadataKey {
			return fmt.Errorf("tensor name %q is reserved", name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		end := offset + int64(t.Len()*size)
		header[name] = tensorHeader{DType: dtype, Shape: t.Shape(), DataOffsets: []int64{offset, end}}
		offset = end
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		_ = f.Close()
		return err
	}
	for _, name := range names {
		raw, err := encode(dtype, tensors[name].Data())
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		if _, err := w.Write(raw); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
