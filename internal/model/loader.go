package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/samcharles93/lorallama/internal/lora"
	"github.com/samcharles93/lorallama/internal/tensor"
	"github.com/samcharles93/lorallama/internal/weights"
)

// WeightsFileName is the checkpoint file expected inside a model directory.
const WeightsFileName = "model.safetensors"

// ConfigFileNames are tried in order when loading a model directory.
var ConfigFileNames = []string{"config.yaml", "config.yml", "config.json"}

// Source supplies named weight tensors.
type Source interface {
	Tensor(name string) (*tensor.Tensor, error)
}

// Role classifies a tensor for initialization.
type Role int

const (
	RoleEmbedding Role = iota
	RoleNorm
	RoleWeight
	RoleAdapterA
	RoleAdapterB
)

// TensorSpec names one tensor the model expects and its [in, out] shape.
type TensorSpec struct {
	Name  string
	Shape []int
	Role  Role
}

// Layout lists every tensor a checkpoint for cfg must contain.
func Layout(cfg Config) []TensorSpec {
	h, kv, ffn, r := cfg.HiddenDim, cfg.KVDim(), cfg.FFNDim, cfg.LoRARank
	specs := []TensorSpec{{Name: "tok_embeddings.weight", Shape: []int{cfg.VocabSize, h}, Role: RoleEmbedding}}

	linear := func(name string, in, out int) {
		specs = append(specs, TensorSpec{Name: name + ".weight", Shape: []int{in, out}, Role: RoleWeight})
		if r > 0 {
			specs = append(specs,
				TensorSpec{Name: name + ".lora_a", Shape: []int{in, r}, Role: RoleAdapterA},
				TensorSpec{Name: name + ".lora_b", Shape: []int{r, out}, Role: RoleAdapterB},
			)
		}
	}
	for i := 0; i < cfg.NumLayers; i++ {
		p := fmt.Sprintf("layers.%d.", i)
		specs = append(specs, TensorSpec{Name: p + "attention_norm.weight", Shape: []int{h}, Role: RoleNorm})
		linear(p+"attention.wq", h, h)
		linear(p+"attention.wk", h, kv)
		linear(p+"attention.wv", h, kv)
		linear(p+"attention.wo", h, h)
		specs = append(specs, TensorSpec{Name: p + "ffn_norm.weight", Shape: []int{h}, Role: RoleNorm})
		linear(p+"feed_forward.w1", h, ffn)
		linear(p+"feed_forward.w3", h, ffn)
		linear(p+"feed_forward.w2", ffn, h)
	}
	specs = append(specs,
		TensorSpec{Name: "norm.weight", Shape: []int{h}, Role: RoleNorm},
		TensorSpec{Name: "output.weight", Shape: []int{h, cfg.VocabSize}, Role: RoleWeight},
	)
	return specs
}

// FromStore builds a model from src. Every tensor in Layout(cfg) must be
// present with the listed shape.
func FromStore(cfg Config, src Source) (*Model, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loaded := make(map[string]*tensor.Tensor)
	for _, spec := range Layout(cfg) {
		t, err := src.Tensor(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Name, err)
		}
		if !slices.Equal(t.Shape(), spec.Shape) {
			return nil, fmt.Errorf("%s: %w: got %v, want %v", spec.Name, tensor.ErrShapeMismatch, t.Shape(), spec.Shape)
		}
		loaded[spec.Name] = t
	}
	return assemble(cfg, loaded)
}

func assemble(cfg Config, w map[string]*tensor.Tensor) (*Model, error) {
	scale := lora.ScaleFor(cfg.LoRAAlpha, cfg.LoRARank)
	linear := func(name string) (*lora.Linear, error) {
		if cfg.LoRARank == 0 {
			return lora.NewLinear(w[name+".weight"])
		}
		return lora.NewAdapted(w[name+".weight"], w[name+".lora_a"], w[name+".lora_b"], scale)
	}

	m := &Model{
		Config:     cfg,
		Embeddings: w["tok_embeddings.weight"],
		OutputNorm: w["norm.weight"],
		Output:     w["output.weight"],
		Layers:     make([]*DecoderLayer, cfg.NumLayers),
	}
	for i := range m.Layers {
		p := fmt.Sprintf("layers.%d.", i)
		var projs [7]*lora.Linear
		for j, name := range []string{
			"attention.wq", "attention.wk", "attention.wv", "attention.wo",
			"feed_forward.w1", "feed_forward.w3", "feed_forward.w2",
		} {
			l, err := linear(p + name)
			if err != nil {
				return nil, fmt.Errorf("%s%s: %w", p, name, err)
			}
			projs[j] = l
		}
		qkv, err := lora.NewQKV(projs[0], projs[1], projs[2])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		attn, err := NewAttention(cfg, qkv, projs[3])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		mlp, err := lora.NewMLP(projs[4], projs[5], projs[6])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.Layers[i] = &DecoderLayer{
			AttnNorm: w[p+"attention_norm.weight"],
			Attn:     attn,
			FFNNorm:  w[p+"ffn_norm.weight"],
			MLP:      mlp,
			Eps:      cfg.RMSEps,
		}
	}
	return m, nil
}

// InitTensors materializes every tensor of Layout(cfg). With zero set all
// values are zero; otherwise norms are ones and everything else is drawn
// reproducibly from seed.
func InitTensors(cfg Config, zero bool, seed int64) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for i, spec := range Layout(cfg) {
		switch {
		case zero:
			out[spec.Name] = tensor.Zeros(spec.Shape...)
		case spec.Role == RoleNorm:
			out[spec.Name] = tensor.Full(1, spec.Shape...)
		case spec.Role == RoleAdapterB:
			out[spec.Name] = tensor.Rand(seed+int64(i), 0.02, spec.Shape...)
		default:
			out[spec.Name] = tensor.Rand(seed+int64(i), 0.2, spec.Shape...)
		}
	}
	return out
}

// Zero builds the all-zero model for cfg. Its logits are zero for any
// input.
func Zero(cfg Config) (*Model, error) {
	cfg.ApplyDefaults()
	return FromStore(cfg, weights.NewMapStore(InitTensors(cfg, true, 0)))
}

// Random builds a model with reproducible random weights.
func Random(cfg Config, seed int64) (*Model, error) {
	cfg.ApplyDefaults()
	return FromStore(cfg, weights.NewMapStore(InitTensors(cfg, false, seed)))
}

// LoadDir loads config and weights from a model directory.
func LoadDir(dir string) (*Model, error) {
	cfgPath, err := findConfig(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	f, err := weights.Open(filepath.Join(dir, WeightsFileName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return FromStore(cfg, f)
}

func findConfig(dir string) (string, error) {
	for _, name := range ConfigFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no model config in %s (tried %v)", dir, ConfigFileNames)
}
