package model

import (
	"fmt"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// Model is a decoder-only transformer. It is read-only after construction,
// so concurrent Forward calls are safe.
type Model struct {
	Config     Config
	Embeddings *tensor.Tensor // [vocab, hidden]
	Layers     []*DecoderLayer
	OutputNorm *tensor.Tensor // [hidden]
	Output     *tensor.Tensor // [hidden, vocab]
}

// Forward returns unnormalized logits of shape [len(tokens), vocab] with
// the first token at position 0.
func (m *Model) Forward(tokens []int) (*tensor.Tensor, error) {
	return m.ForwardAt(tokens, 0)
}

// ForwardAt is Forward with the first token at position startPos.
func (m *Model) ForwardAt(tokens []int, startPos int) (*tensor.Tensor, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty token sequence", tensor.ErrShapeMismatch)
	}
	if startPos < 0 || startPos+len(tokens) > m.Config.MaxSeqLen {
		return nil, fmt.Errorf("%w: positions [%d, %d) exceed max_seq_len %d",
			tensor.ErrIndexOutOfRange, startPos, startPos+len(tokens), m.Config.MaxSeqLen)
	}
	x, err := m.Embeddings.Rows(tokens)
	if err != nil {
		return nil, fmt.Errorf("token embedding: %w", err)
	}
	for i, layer := range m.Layers {
		x, err = layer.Forward(x, startPos)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	x, err = tensor.RMSNorm(x, m.OutputNorm, m.Config.RMSEps)
	if err != nil {
		return nil, fmt.Errorf("output norm: %w", err)
	}
	logits, err := tensor.MatMul(x, m.Output)
	if err != nil {
		return nil, fmt.Errorf("output projection: %w", err)
	}
	return logits, nil
}

// ModelConfig returns the configuration the model was built from.
func (m *Model) ModelConfig() Config { return m.Config }
