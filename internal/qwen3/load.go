package qwen3

import (
	"fmt"
	"slices"

	"github.com/samcharles93/spindle/internal/safetensors"
)

const (
	EmbeddingTensor  = "model.embed_tokens.weight"
	OutputNormTensor = "model.norm.weight"
	OutputTensor     = "lm_head.weight"
)

// Load reads Hugging Face Qwen3 weights from a single safetensors file. The
// lm head falls back to the embedding when it is absent and the config ties
// them.
func Load(path string, cfg Config) (*Model, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := reader{f: f}
	hidden, inter := cfg.HiddenSize, cfg.IntermediateSize
	qDim, kvDim := cfg.qDim(), cfg.kvDim()

	w := Weights{
		Embedding:  r.read(EmbeddingTensor, cfg.VocabSize, hidden),
		OutputNorm: r.read(OutputNormTensor, hidden),
	}
	if _, ok := f.Tensor(OutputTensor); ok {
		w.Output = r.read(OutputTensor, cfg.VocabSize, hidden)
	} else if !cfg.TieWordEmbeddings {
		return nil, fmt.Errorf("qwen3: %s missing and tie_word_embeddings is false", OutputTensor)
	}

	w.Layers = make([]LayerWeights, cfg.NumLayers)
	for i := range w.Layers {
		name := func(s string) string { return fmt.Sprintf("model.layers.%d.%s.weight", i, s) }
		w.Layers[i] = LayerWeights{
			AttnNorm: r.read(name("input_layernorm"), hidden),
			FFNNorm:  r.read(name("post_attention_layernorm"), hidden),
			QNorm:    r.read(name("self_attn.q_norm"), cfg.HeadDim),
			KNorm:    r.read(name("self_attn.k_norm"), cfg.HeadDim),
			Q:        r.read(name("self_attn.q_proj"), qDim, hidden),
			K:        r.read(name("self_attn.k_proj"), kvDim, hidden),
			V:        r.read(name("self_attn.v_proj"), kvDim, hidden),
			O:        r.read(name("self_attn.o_proj"), hidden, qDim),
			Gate:     r.read(name("mlp.gate_proj"), inter, hidden),
			Up:       r.read(name("mlp.up_proj"), inter, hidden),
			Down:     r.read(name("mlp.down_proj"), hidden, inter),
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return New(cfg, w)
}

// reader keeps the first error so Load can read every tensor in one pass.
type reader struct {
	f   *safetensors.File
	err error
}

func (r *reader) read(name string, shape ...int) []float32 {
	if r.err != nil {
		return nil
	}
	vals, info, err := r.f.ReadTensorF32(name)
	if err != nil {
		r.err = err
		return nil
	}
	if !slices.Equal(info.Shape, shape) {
		r.err = fmt.Errorf("qwen3: %s has shape %v, want %v", name, info.Shape, shape)
		return nil
	}
	return vals
}
