package qwen3

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	ErrCachePosition   = errors.New("qwen3: cache position mismatch")
	ErrContextExceeded = errors.New("qwen3: context length exceeded")
)

// LayerWeights holds one decoder block as flat row-major float32 slices.
type LayerWeights struct {
	AttnNorm []float32 // [hidden]
	FFNNorm  []float32 // [hidden]
	QNorm    []float32 // [head_dim]
	KNorm    []float32 // [head_dim]
	Q        []float32 // [heads*head_dim x hidden]
	K        []float32 // [kv_heads*head_dim x hidden]
	V        []float32 // [kv_heads*head_dim x hidden]
	O        []float32 // [hidden x heads*head_dim]
	Gate     []float32 // [intermediate x hidden]
	Up       []float32 // [intermediate x hidden]
	Down     []float32 // [hidden x intermediate]
}

type Weights struct {
	Embedding  []float32 // [vocab x hidden]
	OutputNorm []float32 // [hidden]
	// Output is the lm head; nil reuses Embedding.
	Output     []float32
	Layers     []LayerWeights
}

type layer struct {
	attnNorm, ffnNorm []float32
	qNorm, kNorm      []float32
	wq, wk, wv, wo    matrix
	gate, up, down    matrix

	// key and value cache, one kvDim row per position
	k, v []float32
}

type scratch struct {
	x, h, q, k, v []float32
	attn, proj    []float32
	gate, up      []float32
	scores        []float32
}

// Model is a Qwen3 decoder with a per-layer key/value cache. It is not
// safe for concurrent use.
type Model struct {
	Config Config

	emb        matrix
	outputNorm []float32
	output     matrix
	layers     []layer
	invFreq    []float64
	eps        float32

	pos int
	buf scratch
}

// New validates the weight shapes against cfg and returns a model with an
// empty cache. The slices are used in place.
func New(cfg Config, w Weights) (*Model, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if len(w.Layers) != cfg.NumLayers {
		return nil, fmt.Errorf("qwen3: %d layers, config wants %d", len(w.Layers), cfg.NumLayers)
	}
	hidden, inter := cfg.HiddenSize, cfg.IntermediateSize
	qDim, kvDim := cfg.qDim(), cfg.kvDim()

	var err error
	mat := func(name string, data []float32, rows, cols int) matrix {
		if err == nil && len(data) != rows*cols {
			err = fmt.Errorf("qwen3: %s has %d values, want %dx%d", name, len(data), rows, cols)
		}
		return matrix{rows: rows, cols: cols, data: data}
	}
	vec := func(name string, data []float32, n int) []float32 {
		if err == nil && len(data) != n {
			err = fmt.Errorf("qwen3: %s has %d values, want %d", name, len(data), n)
		}
		return data
	}

	m := &Model{
		Config:     cfg,
		emb:        mat("embedding", w.Embedding, cfg.VocabSize, hidden),
		outputNorm: vec("output norm", w.OutputNorm, hidden),
		invFreq:    ropeInvFreq(cfg.HeadDim, cfg.RopeTheta),
		eps:        float32(cfg.RMSNormEps),
	}
	m.output = m.emb
	if w.Output != nil {
		m.output = mat("output", w.Output, cfg.VocabSize, hidden)
	}
	m.layers = make([]layer, cfg.NumLayers)
	for i, lw := range w.Layers {
		p := fmt.Sprintf("layer %d ", i)
		m.layers[i] = layer{
			attnNorm: vec(p+"attn norm", lw.AttnNorm, hidden),
			ffnNorm:  vec(p+"ffn norm", lw.FFNNorm, hidden),
			qNorm:    vec(p+"q norm", lw.QNorm, cfg.HeadDim),
			kNorm:    vec(p+"k norm", lw.KNorm, cfg.HeadDim),
			wq:       mat(p+"q_proj", lw.Q, qDim, hidden),
			wk:       mat(p+"k_proj", lw.K, kvDim, hidden),
			wv:       mat(p+"v_proj", lw.V, kvDim, hidden),
			wo:       mat(p+"o_proj", lw.O, hidden, qDim),
			gate:     mat(p+"gate_proj", lw.Gate, inter, hidden),
			up:       mat(p+"up_proj", lw.Up, inter, hidden),
			down:     mat(p+"down_proj", lw.Down, hidden, inter),
		}
	}
	if err != nil {
		return nil, err
	}
	m.buf = scratch{
		x:    make([]float32, hidden),
		h:    make([]float32, hidden),
		q:    make([]float32, qDim),
		k:    make([]float32, kvDim),
		v:    make([]float32, kvDim),
		attn: make([]float32, qDim),
		proj: make([]float32, hidden),
		gate: make([]float32, inter),
		up:   make([]float32, inter),
	}
	return m, nil
}

// Forward appends tokens at position offset and returns the logits for the
// last one. offset may rewind into the cache, which drops the later
// positions; it may not skip past the end.
func (m *Model) Forward(ctx context.Context, tokens []int, offset int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("qwen3: forward called with no tokens")
	}
	if offset < 0 || offset > m.pos {
		return nil, fmt.Errorf("%w: offset %d with %d cached", ErrCachePosition, offset, m.pos)
	}
	if limit := m.Config.MaxPositionEmbeddings; limit > 0 && offset+len(tokens) > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrContextExceeded, offset+len(tokens), limit)
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= m.Config.VocabSize {
			return nil, fmt.Errorf("qwen3: token %d outside vocabulary of %d", tok, m.Config.VocabSize)
		}
	}
	m.truncate(offset)

	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.step(tok)
	}

	rmsNorm(m.buf.h, m.buf.x, m.outputNorm, m.eps)
	logits := make([]float32, m.Config.VocabSize)
	m.output.mulVec(logits, m.buf.h)
	return logits, nil
}

// ClearCache drops every cached position.
func (m *Model) ClearCache() { m.truncate(0) }

// CacheLen reports how many positions are cached.
func (m *Model) CacheLen() int { return m.pos }

func (m *Model) truncate(pos int) {
	kvDim := m.Config.kvDim()
	for i := range m.layers {
		m.layers[i].k = m.layers[i].k[:pos*kvDim]
		m.layers[i].v = m.layers[i].v[:pos*kvDim]
	}
	m.pos = pos
}

// step runs one token through every block, leaving the residual stream in
// buf.x and the token's keys and values in the cache.
func (m *Model) step(tok int) {
	cfg := m.Config
	b := &m.buf
	copy(b.x, m.emb.data[tok*cfg.HiddenSize:(tok+1)*cfg.HiddenSize])

	for i := range m.layers {
		l := &m.layers[i]

		rmsNorm(b.h, b.x, l.attnNorm, m.eps)
		l.wq.mulVec(b.q, b.h)
		l.wk.mulVec(b.k, b.h)
		l.wv.mulVec(b.v, b.h)
		for hd := range cfg.NumHeads {
			q := b.q[hd*cfg.HeadDim : (hd+1)*cfg.HeadDim]
			rmsNorm(q, q, l.qNorm, m.eps)
		}
		for hd := range cfg.NumKVHeads {
			k := b.k[hd*cfg.HeadDim : (hd+1)*cfg.HeadDim]
			rmsNorm(k, k, l.kNorm, m.eps)
		}
		applyRoPE(b.q, cfg.NumHeads, cfg.HeadDim, m.pos, m.invFreq)
		applyRoPE(b.k, cfg.NumKVHeads, cfg.HeadDim, m.pos, m.invFreq)
		l.k = append(l.k, b.k...)
		l.v = append(l.v, b.v...)

		m.attend(l)
		l.wo.mulVec(b.proj, b.attn)
		add(b.x, b.proj)

		rmsNorm(b.h, b.x, l.ffnNorm, m.eps)
		l.gate.mulVec(b.gate, b.h)
		l.up.mulVec(b.up, b.h)
		for j, g := range b.gate {
			b.gate[j] = silu(g) * b.up[j]
		}
		l.down.mulVec(b.proj, b.gate)
		add(b.x, b.proj)
	}
	m.pos++
}

// attend runs causal grouped-query attention for the newest position over
// every cached one, writing buf.attn.
func (m *Model) attend(l *layer) {
	cfg := m.Config
	b := &m.buf
	hd, kvDim := cfg.HeadDim, cfg.kvDim()
	positions := m.pos + 1
	if cap(b.scores) < positions {
		b.scores = make([]float32, positions, 2*positions)
	}
	scores := b.scores[:positions]
	scale := float32(1 / math.Sqrt(float64(hd)))
	group := cfg.NumHeads / cfg.NumKVHeads

	for h := range cfg.NumHeads {
		q := b.q[h*hd : (h+1)*hd]
		kvOff := (h / group) * hd
		for t := range positions {
			scores[t] = dot(q, l.k[t*kvDim+kvOff:t*kvDim+kvOff+hd]) * scale
		}
		softmax(scores)
		out := b.attn[h*hd : (h+1)*hd]
		clear(out)
		for t, p := range scores {
			v := l.v[t*kvDim+kvOff : t*kvDim+kvOff+hd]
			for d := range out {
				out[d] += p * v[d]
			}
		}
	}
}
