package qwen3

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// ModelType is the config.json model_type this package serves.
const ModelType = "qwen3"

const (
	defaultRMSNormEps = 1e-6
	defaultRopeTheta  = 1_000_000
)

// Config is the subset of a Hugging Face Qwen3 config.json the model reads.
type Config struct {
	ModelType             string  `json:"model_type"`
	VocabSize             int     `json:"vocab_size"`
	HiddenSize            int     `json:"hidden_size"`
	IntermediateSize      int     `json:"intermediate_size"`
	NumLayers             int     `json:"num_hidden_layers"`
	NumHeads              int     `json:"num_attention_heads"`
	NumKVHeads            int     `json:"num_key_value_heads"`
	HeadDim               int     `json:"head_dim"`
	RMSNormEps            float64 `json:"rms_norm_eps"`
	RopeTheta             float64 `json:"rope_theta"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
	TieWordEmbeddings     bool    `json:"tie_word_embeddings"`
	RopeScaling           any     `json:"rope_scaling"`
}

// LoadConfig reads config.json, fills the Qwen3 defaults and validates the
// dimensions.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.ModelType != "" && c.ModelType != ModelType {
		return fmt.Errorf("qwen3: model_type %q", c.ModelType)
	}
	if c.VocabSize <= 0 || c.HiddenSize <= 0 || c.IntermediateSize <= 0 || c.NumLayers <= 0 || c.NumHeads <= 0 {
		return fmt.Errorf("qwen3: vocab_size, hidden_size, intermediate_size, num_hidden_layers and num_attention_heads must be positive")
	}
	if c.NumKVHeads == 0 {
		c.NumKVHeads = c.NumHeads
	}
	if c.NumKVHeads < 0 || c.NumHeads%c.NumKVHeads != 0 {
		return fmt.Errorf("qwen3: %d attention heads do not divide into %d kv heads", c.NumHeads, c.NumKVHeads)
	}
	if c.HeadDim == 0 {
		c.HeadDim = c.HiddenSize / c.NumHeads
	}
	if c.HeadDim <= 0 || c.HeadDim%2 != 0 {
		return fmt.Errorf("qwen3: head_dim %d must be positive and even", c.HeadDim)
	}
	if c.RMSNormEps <= 0 {
		c.RMSNormEps = defaultRMSNormEps
	}
	if c.RopeTheta <= 0 {
		c.RopeTheta = defaultRopeTheta
	}
	// TODO: support the yarn rope_scaling block used by long-context Qwen3 checkpoints.
	if c.RopeScaling != nil {
		return fmt.Errorf("qwen3: rope_scaling is not supported")
	}
	return nil
}

func (c Config) qDim() int  { return c.NumHeads * c.HeadDim }
func (c Config) kvDim() int { return c.NumKVHeads * c.HeadDim }
