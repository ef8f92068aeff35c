package weights

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/lorallama/internal/tensor"
)

const metadataKey = "__metadata__"

// maxHeaderLen bounds the JSON header so a corrupt length cannot trigger a
// huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an opened safetensors checkpoint. The data region is memory
// mapped where the platform allows it, so the file must be closed.
type File struct {
	Path     string
	Metadata map[string]string

	tensors map[string]TensorInfo
	data    []byte // tensor data region, after the header
	release func() error
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps a checkpoint read-only and validates its header. If mmap is
// unavailable it falls back to reading the file into memory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%s: invalid safetensors size %d", path, size64)
	}
	size := int(size64)

	buf, release, err := mapFile(f, size)
	if err != nil {
		buf = make([]byte, size)
		if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		release = func() error { return nil }
	}
	sf, err := parse(path, buf)
	if err != nil {
		_ = release()
		return nil, err
	}
	sf.release = release
	return sf, nil
}

func parse(path string, buf []byte) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(buf[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(buf)-8) {
		return nil, fmt.Errorf("%s: header length %d exceeds file", path, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%s: parse header: %w", path, err)
	}

	sf := &File{
		Path:    path,
		tensors: make(map[string]TensorInfo, len(raw)),
		data:    buf[8+headerLen:],
	}
	if msg, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(msg, &sf.Metadata); err != nil {
			return nil, fmt.Errorf("%s: parse metadata: %w", path, err)
		}
		delete(raw, metadataKey)
	}
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		info := TensorInfo{DType: th.DType, Shape: th.Shape, Start: th.DataOffsets[0], End: th.DataOffsets[1]}
		if info.Start < 0 || info.End < info.Start || info.End > int64(len(sf.data)) {
			return nil, fmt.Errorf("tensor %s: offsets [%d, %d) outside data region of %d bytes",
				name, info.Start, info.End, len(sf.data))
		}
		sf.tensors[name] = info
	}
	return sf, nil
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *File) Info(name string) (TensorInfo, bool) {
	t, ok := f.tensors[name]
	return t, ok
}

// Tensor decodes the named tensor into a fresh float32 tensor. The result
// does not alias the mapping and stays valid after Close.
func (f *File) Tensor(name string) (*tensor.Tensor, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	data, err := decode(info.DType, f.data[info.Start:info.End], n)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return tensor.New(info.Shape, data)
}

// Close releases the mapping. Tensors already returned remain usable.
func (f *File) Close() error {
	if f.release == nil {
		return nil
	}
	err := f.release()
	f.release = nil
	f.data = nil
	return err
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d > 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}
