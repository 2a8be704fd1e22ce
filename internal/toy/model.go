package toy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/spindle/internal/safetensors"
)

// ModelType is the config.json model_type this package serves.
const ModelType = "toy"

const (
	EmbeddingTensor = "model.embed_tokens.weight"
	HeadTensor      = "lm_head.weight"
	BiasTensor      = "lm_head.bias"
)

var ErrCachePosition = errors.New("toy: cache position mismatch")

// Config is the subset of a Hugging Face config.json the model reads.
type Config struct {
	ModelType         string `json:"model_type"`
	VocabSize         int    `json:"vocab_size"`
	HiddenSize        int    `json:"hidden_size"`
	TieWordEmbeddings bool   `json:"tie_word_embeddings"`
}

// LoadConfig reads config.json.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.VocabSize <= 0 || cfg.HiddenSize <= 0 {
		return Config{}, fmt.Errorf("%s: vocab_size and hidden_size must be positive", path)
	}
	return cfg, nil
}

// Model is a causal bag-of-embeddings language model. The hidden state at
// position t is the mean of the embeddings of tokens 0..t, and the logits
// are Head·h + Bias. The cache stores one running embedding sum per
// position, so a forward pass only has to fold in the new tokens.
type Model struct {
	Vocab  int
	Hidden int

	Emb  []float32 // [Vocab x Hidden]
	Head []float32 // [Vocab x Hidden]
	Bias []float32 // [Vocab] or nil

	sums [][]float32
}

// New validates weight shapes and returns a model with an empty cache.
func New(vocab, hidden int, emb, head, bias []float32) (*Model, error) {
	if vocab <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("toy: invalid dims vocab=%d hidden=%d", vocab, hidden)
	}
	if len(emb) != vocab*hidden {
		return nil, fmt.Errorf("toy: embedding has %d values, want %d", len(emb), vocab*hidden)
	}
	if len(head) != vocab*hidden {
		return nil, fmt.Errorf("toy: lm head has %d values, want %d", len(head), vocab*hidden)
	}
	if bias != nil && len(bias) != vocab {
		return nil, fmt.Errorf("toy: bias has %d values, want %d", len(bias), vocab)
	}
	return &Model{Vocab: vocab, Hidden: hidden, Emb: emb, Head: head, Bias: bias}, nil
}

// Load reads the weights named by the *Tensor constants from a safetensors
// file. The head falls back to the embedding when the config ties them.
func Load(path string, cfg Config) (*Model, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	emb, err := readMatrix(f, EmbeddingTensor, cfg)
	if err != nil {
		return nil, err
	}
	head := emb
	if _, ok := f.Tensor(HeadTensor); ok {
		if head, err = readMatrix(f, HeadTensor, cfg); err != nil {
			return nil, err
		}
	} else if !cfg.TieWordEmbeddings {
		return nil, fmt.Errorf("toy: %s missing and tie_word_embeddings is false", HeadTensor)
	}
	var bias []float32
	if _, ok := f.Tensor(BiasTensor); ok {
		if bias, _, err = f.ReadTensorF32(BiasTensor); err != nil {
			return nil, err
		}
	}
	return New(cfg.VocabSize, cfg.HiddenSize, emb, head, bias)
}

func readMatrix(f *safetensors.File, name string, cfg Config) ([]float32, error) {
	vals, info, err := f.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) != 2 || info.Shape[0] != cfg.VocabSize || info.Shape[1] != cfg.HiddenSize {
		return nil, fmt.Errorf("toy: %s has shape %v, want [%d %d]", name, info.Shape, cfg.VocabSize, cfg.HiddenSize)
	}
	return vals, nil
}

// Forward appends tokens at position offset and returns the logits for the
// last one. offset may rewind into the cache, which drops the later
// positions; it may not skip past the end.
func (m *Model) Forward(ctx context.Context, tokens []int, offset int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("toy: forward called with no tokens")
	}
	if offset < 0 || offset > len(m.sums) {
		return nil, fmt.Errorf("%w: offset %d with %d cached", ErrCachePosition, offset, len(m.sums))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.sums = m.sums[:offset]

	for _, tok := range tokens {
		if tok < 0 || tok >= m.Vocab {
			return nil, fmt.Errorf("toy: token %d outside vocabulary of %d", tok, m.Vocab)
		}
		sum := make([]float32, m.Hidden)
		if n := len(m.sums); n > 0 {
			copy(sum, m.sums[n-1])
		}
		row := m.Emb[tok*m.Hidden : (tok+1)*m.Hidden]
		for i, v := range row {
			sum[i] += v
		}
		m.sums = append(m.sums, sum)
	}

	last := m.sums[len(m.sums)-1]
	scale := 1 / float32(len(m.sums))
	logits := make([]float32, m.Vocab)
	for j := range logits {
		w := m.Head[j*m.Hidden : (j+1)*m.Hidden]
		var acc float32
		for i, h := range last {
			acc += w[i] * h
		}
		logits[j] = acc * scale
		if m.Bias != nil {
			logits[j] += m.Bias[j]
		}
	}
	return logits, nil
}

// ClearCache drops every cached position.
func (m *Model) ClearCache() {
	m.sums = m.sums[:0]
}

// CacheLen reports how many positions are cached.
func (m *Model) CacheLen() int {
	return len(m.sums)
}
