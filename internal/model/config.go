package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/lorallama/internal/tensor"
)

// Config holds the hyperparameters of a Llama-style decoder with optional
// LoRA adapters. It can be read from config.yaml or config.json.
type Config struct {
	VocabSize  int `yaml:"vocab_size" json:"vocab_size"`
	HiddenDim  int `yaml:"hidden_dim" json:"hidden_dim"`
	NumLayers  int `yaml:"n_layers" json:"n_layers"`
	NumHeads   int `yaml:"n_heads" json:"n_heads"`
	NumKVHeads int `yaml:"n_kv_heads" json:"n_kv_heads"`
	HeadDim    int `yaml:"head_dim" json:"head_dim"`
	FFNDim     int `yaml:"ffn_dim" json:"ffn_dim"`

	RotaryDim int     `yaml:"rotary_dim" json:"rotary_dim"`
	RopeTheta float64 `yaml:"rope_theta" json:"rope_theta"`
	MaxSeqLen int     `yaml:"max_seq_len" json:"max_seq_len"`
	RMSEps    float32 `yaml:"rms_eps" json:"rms_eps"`
	Causal    bool    `yaml:"causal" json:"causal"`

	// LoRARank of zero means the checkpoint carries no adapters.
	LoRARank  int     `yaml:"lora_rank" json:"lora_rank"`
	LoRAAlpha float64 `yaml:"lora_alpha,omitempty" json:"lora_alpha,omitempty"`
}

const (
	defaultRMSEps    = 1e-5
	defaultMaxSeqLen = 2048
)

// ApplyDefaults fills derivable fields left at zero.
func (c *Config) ApplyDefaults() {
	if c.NumKVHeads == 0 {
		c.NumKVHeads = c.NumHeads
	}
	if c.HeadDim == 0 && c.NumHeads > 0 {
		c.HeadDim = c.HiddenDim / c.NumHeads
	}
	if c.RotaryDim == 0 {
		c.RotaryDim = c.HeadDim
	}
	if c.RopeTheta == 0 {
		c.RopeTheta = tensor.DefaultRopeTheta
	}
	if c.RMSEps == 0 {
		c.RMSEps = defaultRMSEps
	}
	if c.MaxSeqLen == 0 {
		c.MaxSeqLen = defaultMaxSeqLen
	}
}

// Validate reports the first violated invariant as ErrConfigInvalid.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", tensor.ErrConfigInvalid, fmt.Sprintf(format, args...))
	}
	switch {
	case c.VocabSize <= 0:
		return invalid("vocab_size must be positive")
	case c.HiddenDim <= 0:
		return invalid("hidden_dim must be positive")
	case c.NumLayers < 0:
		return invalid("n_layers must not be negative")
	case c.NumHeads <= 0 || c.NumKVHeads <= 0:
		return invalid("n_heads and n_kv_heads must be positive")
	case c.NumKVHeads > c.NumHeads:
		return invalid("n_kv_heads %d exceeds n_heads %d", c.NumKVHeads, c.NumHeads)
	case c.NumHeads%c.NumKVHeads != 0:
		return invalid("n_heads %d not divisible by n_kv_heads %d", c.NumHeads, c.NumKVHeads)
	case c.HeadDim <= 0 || c.NumHeads*c.HeadDim != c.HiddenDim:
		return invalid("hidden_dim %d != n_heads %d * head_dim %d", c.HiddenDim, c.NumHeads, c.HeadDim)
	case c.FFNDim <= 0:
		return invalid("ffn_dim must be positive")
	case c.RotaryDim <= 0 || c.RotaryDim%2 != 0 || c.RotaryDim > c.HeadDim:
		return invalid("rotary_dim %d must be even and within head_dim %d", c.RotaryDim, c.HeadDim)
	case c.RopeTheta <= 0:
		return invalid("rope_theta must be positive")
	case c.MaxSeqLen <= 0:
		return invalid("max_seq_len must be positive")
	case c.RMSEps <= 0:
		return invalid("rms_eps must be positive")
	case c.LoRARank < 0:
		return invalid("lora_rank must not be negative")
	case c.LoRARank > min(c.NumKVHeads*c.HeadDim, c.FFNDim, c.HiddenDim):
		return invalid("lora_rank %d exceeds the smallest adapted dimension", c.LoRARank)
	}
	return nil
}

// KVDim is the width of the key and value projections.
func (c Config) KVDim() int { return c.NumKVHeads * c.HeadDim }

// LoadConfig reads a model config from a .yaml/.yml or .json file, applies
// defaults and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteConfig stores cfg as YAML.
func WriteConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
