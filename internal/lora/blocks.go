package lora

import (
	"fmt"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// MLP is the SwiGLU feed-forward block: down(silu(gate(x)) * up(x)).
type MLP struct {
	Gate, Up, Down *Linear
}

// NewMLP checks that the three projections chain hidden -> ffn -> hidden.
func NewMLP(gate, up, down *Linear) (*MLP, error) {
	if gate == nil || up == nil || down == nil {
		return nil, fmt.Errorf("%w: mlp needs gate, up and down", tensor.ErrConfigInvalid)
	}
	hidden, ffn := gate.In(), gate.Out()
	if up.In() != hidden || up.Out() != ffn {
		return nil, fmt.Errorf("%w: up %v does not match gate %v", tensor.ErrShapeMismatch, up.W.Shape(), gate.W.Shape())
	}
	if down.In() != ffn || down.Out() != hidden {
		return nil, fmt.Errorf("%w: down %v does not invert gate %v", tensor.ErrShapeMismatch, down.W.Shape(), gate.W.Shape())
	}
	return &MLP{Gate: gate, Up: up, Down: down}, nil
}

func (m *MLP) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	g, err := m.Gate.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	u, err := m.Up.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("up: %w", err)
	}
	h, err := tensor.Mul(tensor.SiLU(g), u)
	if err != nil {
		return nil, err
	}
	out, err := m.Down.Forward(h)
	if err != nil {
		return nil, fmt.Errorf("down: %w", err)
	}
	return out, nil
}

// QKV holds the three attention input projections, which share one input.
type QKV struct {
	Q, K, V *Linear
}

func NewQKV(q, k, v *Linear) (*QKV, error) {
	if q == nil || k == nil || v == nil {
		return nil, fmt.Errorf("%w: qkv needs q, k and v", tensor.ErrConfigInvalid)
	}
	if k.In() != q.In() || v.In() != q.In() {
		return nil, fmt.Errorf("%w: q/k/v inputs %d/%d/%d differ", tensor.ErrShapeMismatch, q.In(), k.In(), v.In())
	}
	if k.Out() != v.Out() {
		return nil, fmt.Errorf("%w: k out %d, v out %d", tensor.ErrShapeMismatch, k.Out(), v.Out())
	}
	return &QKV{Q: q, K: k, V: v}, nil
}

func (p *QKV) Forward(x *tensor.Tensor) (q, k, v *tensor.Tensor, err error) {
	if q, err = p.Q.Forward(x); err != nil {
		return nil, nil, nil, fmt.Errorf("q: %w", err)
	}
	if k, err = p.K.Forward(x); err != nil {
		return nil, nil, nil, fmt.Errorf("k: %w", err)
	}
	if v, err = p.V.Forward(x); err != nil {
		return nil, nil, nil, fmt.Errorf("v: %w", err)
	}
	return q, k, v, nil
}
