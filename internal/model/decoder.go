package model

import (
	"fmt"

	"github.com/samcharles93/lorallama/internal/lora"
	"github.com/samcharles93/lorallama/internal/tensor"
)

// DecoderLayer is one pre-norm transformer block:
//
//	h   = x + Attention(RMSNorm(x, AttnNorm))
//	out = h + MLP(RMSNorm(h, FFNNorm))
type DecoderLayer struct {
	AttnNorm *tensor.Tensor
	Attn     *Attention
	FFNNorm  *tensor.Tensor
	MLP      *lora.MLP
	Eps      float32
}

func (l *DecoderLayer) Forward(x *tensor.Tensor, startPos int) (*tensor.Tensor, error) {
	normed, err := tensor.RMSNorm(x, l.AttnNorm, l.Eps)
	if err != nil {
		return nil, fmt.Errorf("attention norm: %w", err)
	}
	attnOut, err := l.Attn.ForwardAt(normed, startPos)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}
	h, err := tensor.Add(x, attnOut)
	if err != nil {
		return nil, err
	}

	normed, err = tensor.RMSNorm(h, l.FFNNorm, l.Eps)
	if err != nil {
		return nil, fmt.Errorf("ffn norm: %w", err)
	}
	ffnOut, err := l.MLP.Forward(normed)
	if err != nil {
		return nil, fmt.Errorf("ffn: %w", err)
	}
	return tensor.Add(h, ffnOut)
}
