package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/lorallama/internal/lora"
	"github.com/samcharles93/lorallama/internal/tensor"
)

func approx(tol float64) cmp.Option { return cmpopts.EquateApprox(0, tol) }

// testConfig is a tiny GQA model: 4 query heads sharing 2 KV heads.
func testConfig() Config {
	cfg := Config{
		VocabSize:  11,
		HiddenDim:  8,
		NumLayers:  2,
		NumHeads:   4,
		NumKVHeads: 2,
		FFNDim:     12,
		MaxSeqLen:  16,
		LoRARank:   2,
		LoRAAlpha:  4,
	}
	cfg.ApplyDefaults()
	return cfg
}

func randLinear(t *testing.T, seed int64, in, out, rank int) *lora.Linear {
	t.Helper()
	w := tensor.Rand(seed, 1, in, out)
	if rank == 0 {
		l, err := lora.NewLinear(w)
		require.NoError(t, err)
		return l
	}
	l, err := lora.NewAdapted(w, tensor.Rand(seed+1, 1, in, rank), tensor.Rand(seed+2, 1, rank, out), 0.5)
	require.NoError(t, err)
	return l
}

func newTestAttention(t *testing.T, cfg Config, seed int64) *Attention {
	t.Helper()
	h, kv := cfg.HiddenDim, cfg.KVDim()
	qkv, err := lora.NewQKV(
		randLinear(t, seed, h, h, cfg.LoRARank),
		randLinear(t, seed+10, h, kv, cfg.LoRARank),
		randLinear(t, seed+20, h, kv, cfg.LoRARank),
	)
	require.NoError(t, err)
	a, err := NewAttention(cfg, qkv, randLinear(t, seed+30, h, h, cfg.LoRARank))
	require.NoError(t, err)
	return a
}
