package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/lorallama/internal/lora"
	"github.com/samcharles93/lorallama/internal/tensor"
)

// Attention is grouped-query self-attention with rotary position
// embeddings. Query heads are split into n_kv_heads groups, and each
// group shares one key/value head.
type Attention struct {
	QKV *lora.QKV
	O   *lora.Linear

	NumHeads   int
	NumKVHeads int
	HeadDim    int
	RotaryDim  int
	RopeTheta  float64
	MaxSeqLen  int
	Causal     bool
}

// NewAttention wires the projections to the head layout in cfg and rejects
// any inconsistency up front.
func NewAttention(cfg Config, qkv *lora.QKV, o *lora.Linear) (*Attention, error) {
	if qkv == nil || o == nil {
		return nil, fmt.Errorf("%w: attention needs qkv and output projections", tensor.ErrConfigInvalid)
	}
	nh, nkv, hd := cfg.NumHeads, cfg.NumKVHeads, cfg.HeadDim
	switch {
	case nh <= 0 || nkv <= 0 || hd <= 0:
		return nil, fmt.Errorf("%w: heads %d/%d, head_dim %d", tensor.ErrConfigInvalid, nh, nkv, hd)
	case nkv > nh || nh%nkv != 0:
		return nil, fmt.Errorf("%w: n_heads %d, n_kv_heads %d", tensor.ErrConfigInvalid, nh, nkv)
	case cfg.RotaryDim <= 0 || cfg.RotaryDim%2 != 0 || cfg.RotaryDim > hd:
		return nil, fmt.Errorf("%w: rotary_dim %d, head_dim %d", tensor.ErrConfigInvalid, cfg.RotaryDim, hd)
	case qkv.Q.Out() != nh*hd:
		return nil, fmt.Errorf("%w: q projects to %d, want n_heads*head_dim=%d", tensor.ErrConfigInvalid, qkv.Q.Out(), nh*hd)
	case qkv.K.Out() != nkv*hd:
		return nil, fmt.Errorf("%w: k/v project to %d, want n_kv_heads*head_dim=%d", tensor.ErrConfigInvalid, qkv.K.Out(), nkv*hd)
	case o.In() != nh*hd || o.Out() != qkv.Q.In():
		return nil, fmt.Errorf("%w: output projection %v for hidden %d", tensor.ErrConfigInvalid, o.W.Shape(), qkv.Q.In())
	}
	return &Attention{
		QKV:        qkv,
		O:          o,
		NumHeads:   nh,
		NumKVHeads: nkv,
		HeadDim:    hd,
		RotaryDim:  cfg.RotaryDim,
		RopeTheta:  cfg.RopeTheta,
		MaxSeqLen:  cfg.MaxSeqLen,
		Causal:     cfg.Causal,
	}, nil
}

// Forward attends over x of shape [seq, hidden] with positions starting at 0.
func (a *Attention) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return a.ForwardAt(x, 0)
}

// ForwardAt attends over x with token r at position startPos+r.
func (a *Attention) ForwardAt(x *tensor.Tensor, startPos int) (*tensor.Tensor, error) {
	ctx, err := a.run(x, startPos)
	if err != nil {
		return nil, err
	}
	// [nHead, seq, hd] -> [seq, nHead*hd]
	heads := tensor.MustNew([]int{a.NumHeads, ctx.seq, a.HeadDim}, ctx.attnOut)
	merged, err := tensor.SwapLeading(heads)
	if err != nil {
		return nil, err
	}
	merged, err = merged.Reshape(ctx.seq, a.NumHeads*a.HeadDim)
	if err != nil {
		return nil, err
	}
	out, err := a.O.Forward(merged)
	if err != nil {
		return nil, fmt.Errorf("output projection: %w", err)
	}
	return out, nil
}

// Weights returns the post-softmax attention probabilities, shaped
// [n_heads, seq, seq].
func (a *Attention) Weights(x *tensor.Tensor, startPos int) (*tensor.Tensor, error) {
	ctx, err := a.run(x, startPos)
	if err != nil {
		return nil, err
	}
	return tensor.New([]int{a.NumHeads, ctx.seq, ctx.seq}, ctx.scores)
}

func (a *Attention) run(x *tensor.Tensor, startPos int) (*attnContext, error) {
	if x.Rank() != 2 || x.Dim(1) != a.QKV.Q.In() {
		return nil, fmt.Errorf("%w: attention input %v, hidden %d", tensor.ErrShapeMismatch, x.Shape(), a.QKV.Q.In())
	}
	seq := x.Dim(0)
	q, k, v, err := a.QKV.Forward(x)
	if err != nil {
		return nil, err
	}

	q, err = a.splitHeads(q, a.NumHeads, startPos, true)
	if err != nil {
		return nil, fmt.Errorf("q: %w", err)
	}
	k, err = a.splitHeads(k, a.NumKVHeads, startPos, true)
	if err != nil {
		return nil, fmt.Errorf("k: %w", err)
	}
	v, err = a.splitHeads(v, a.NumKVHeads, startPos, false)
	if err != nil {
		return nil, fmt.Errorf("v: %w", err)
	}

	ctx := &attnContext{
		q:       q.Data(),
		k:       k.Data(),
		v:       v.Data(),
		scores:  make([]float32, a.NumHeads*seq*seq),
		attnOut: make([]float32, a.NumHeads*seq*a.HeadDim),
		seq:     seq,
		headDim: a.HeadDim,
		nHead:   a.NumHeads,
		kvHeads: a.NumKVHeads,
		scale:   float32(1.0 / math.Sqrt(float64(a.HeadDim))),
		causal:  a.Causal,
	}
	runAttnHeads(ctx)
	return ctx, nil
}

// splitHeads turns a [seq, heads*hd] projection into head-major
// [heads, seq, hd], optionally applying per-token RoPE first.
func (a *Attention) splitHeads(p *tensor.Tensor, heads, startPos int, rotary bool) (*tensor.Tensor, error) {
	seq := p.Dim(0)
	t, err := p.Reshape(seq, heads, a.HeadDim)
	if err != nil {
		return nil, err
	}
	if rotary {
		t, err = tensor.RoPEAt(t, startPos, a.RotaryDim, a.MaxSeqLen, a.RopeTheta)
		if err != nil {
			return nil, err
		}
	}
	return tensor.SwapLeading(t)
}
