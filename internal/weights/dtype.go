package weights

import (
	"encoding/binary"
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Supported element types, as spelled in the header.
const (
	F32  = "F32"
	F16  = "F16"
	BF16 = "BF16"
)

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case F32:
		return 4, nil
	case F16, BF16:
		return 2, nil
	}
	return 0, fmt.Errorf("unsupported dtype %s", dtype)
}

func decode(dtype string, raw []byte, n int) ([]float32, error) {
	size, err := dtypeSize(dtype)
	if err != nil {
		return nil, err
	}
	if len(raw) != n*size {
		return nil, fmt.Errorf("invalid %s data size %d for %d elements", dtype, len(raw), n)
	}
	switch dtype {
	case BF16:
		return bfloat16.DecodeFloat32(raw), nil
	case F16:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, nil
	default:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	}
}

func encode(dtype string, data []float32) ([]byte, error) {
	switch dtype {
	case BF16:
		return bfloat16.EncodeFloat32(data), nil
	case F16:
		out := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
		return out, nil
	case F32:
		out := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported dtype %s", dtype)
}
