// Package weights reads and writes named float32 tensors. Checkpoints use
// the safetensors layout: an 8-byte little-endian header length, a JSON
// header, then raw little-endian tensor data.
package weights

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// ErrTensorNotFound is returned when a store has no tensor of that name.
var ErrTensorNotFound = errors.New("tensor not found")

// Store is a read-only source of named tensors.
type Store interface {
	Tensor(name string) (*tensor.Tensor, error)
	Names() []string
}

// MapStore serves tensors from memory.
type MapStore map[string]*tensor.Tensor

func NewMapStore(m map[string]*tensor.Tensor) MapStore { return MapStore(m) }

func (s MapStore) Tensor(name string) (*tensor.Tensor, error) {
	t, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return t, nil
}

// Names returns the tensor names in sorted order.
func (s MapStore) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
