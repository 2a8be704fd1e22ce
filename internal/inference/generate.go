package inference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/logits"
	"github.com/samcharles93/spindle/internal/telemetry"
	"github.com/samcharles93/spindle/internal/tokenizer"
)

const (
	DefaultMaxTokens     = 10000
	DefaultRepeatPenalty = 1.1
	DefaultRepeatLastN   = 64
	DefaultSeed          = 299792458

	// FinishStop is reported both for an end-of-sequence token and for
	// reaching MaxTokens.
	FinishStop = "stop"

	tracerName = "github.com/samcharles93/spindle/internal/inference"
)

// GenerateConfig controls one generation.
type GenerateConfig struct {
	// MaxTokens caps the number of sampled tokens, end-of-sequence
	// included. Values <= 0 use DefaultMaxTokens.
	MaxTokens int
	// RepeatPenalty of 1 disables the penalty.
	RepeatPenalty float32
	RepeatLastN   int
	Sampler       logits.SamplerConfig
	// StopIDs end generation when sampled. They are never decoded.
	StopIDs []int
}

// Token is one sampled id and the text it completed. Text is empty while
// the id is held back as part of an unfinished multi-byte character.
type Token struct {
	ID   int
	Text string
}

// Stats summarizes a finished generation.
type Stats struct {
	PromptTokens    int
	GeneratedTokens int
	FinishReason    string
	// HitLimit is set when MaxTokens ended the generation.
	HitLimit        bool
	DroppedIDs      int
	Duration        time.Duration
	TokensPerSecond float64
}

// Controller drives the sample loop against an engine and tokenizer.
type Controller struct {
	Engine    Engine
	Tokenizer tokenizer.Tokenizer
	Logger    logger.Logger
}

// Generate encodes prompt and returns a Generation ready to be consumed.
// Nothing runs on the engine until the token sequence is iterated.
func (c *Controller) Generate(ctx context.Context, prompt string, cfg GenerateConfig) (*Generation, error) {
	if c == nil || c.Engine == nil || c.Tokenizer == nil {
		return nil, ErrModelNotInitialized
	}
	ids, err := safeEncode(c.Tokenizer, prompt)
	if err != nil {
		return nil, tokenizerError(fmt.Errorf("encode prompt: %w", err))
	}
	if len(ids) == 0 {
		return nil, tokenizerError(errors.New("prompt encoded to zero tokens"))
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	log := c.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	return &Generation{
		ctx:    ctx,
		engine: c.Engine,
		tok:    c.Tokenizer,
		log:    log,
		cfg:    cfg,
		prompt: ids,
	}, nil
}

// Generation is a single-use lazy token sequence.
type Generation struct {
	ctx    context.Context
	engine Engine
	tok    tokenizer.Tokenizer
	log    logger.Logger
	cfg    GenerateConfig
	prompt []int

	consumed atomic.Bool
	stats    Stats
}

// PromptTokens reports the encoded prompt length.
func (g *Generation) PromptTokens() int { return len(g.prompt) }

// Stats is complete once the sequence returned by Tokens has finished.
func (g *Generation) Stats() Stats { return g.stats }

// Tokens returns the sampled tokens in order. The sequence may be ranged
// over once; a second range yields ErrGenerationConsumed. An error ends the
// sequence. The engine cache is cleared however the range ends, including
// when the consumer breaks out early.
func (g *Generation) Tokens() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		if !g.consumed.CompareAndSwap(false, true) {
			yield(Token{}, ErrGenerationConsumed)
			return
		}
		g.run(yield)
	}
}

// Text adapts Tokens to the non-empty text fragments only.
func (g *Generation) Text() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for tok, err := range g.Tokens() {
			if err != nil {
				yield("", err)
				return
			}
			if tok.Text == "" {
				continue
			}
			if !yield(tok.Text, nil) {
				return
			}
		}
	}
}

func (g *Generation) run(yield func(Token, error) bool) {
	ctx, span := telemetry.Start(g.ctx, tracerName, "generate",
		attribute.Int("prompt_tokens", len(g.prompt)),
		attribute.Int("max_tokens", g.cfg.MaxTokens),
	)
	start := time.Now()
	var runErr error
	dec := NewDecodeBuffer(g.tok)
	defer func() {
		g.engine.ClearCache()
		g.finish(start, dec)
		span.SetAttributes(attribute.Int("generated_tokens", g.stats.GeneratedTokens))
		telemetry.End(span, runErr)
	}()

	fail := func(err error) {
		runErr = err
		yield(Token{}, err)
	}

	sampler := logits.NewSampler(g.cfg.Sampler)
	seq := make([]int, len(g.prompt), len(g.prompt)+min(g.cfg.MaxTokens, 4096))
	copy(seq, g.prompt)
	g.stats.PromptTokens = len(g.prompt)

	for step := 0; step < g.cfg.MaxTokens; step++ {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}
		input := seq[len(seq)-1:]
		if step == 0 {
			input = seq
		}
		scores, err := safeForward(ctx, g.engine, input, len(seq)-len(input))
		if err != nil {
			fail(inferenceError(err))
			return
		}
		if len(scores) == 0 {
			fail(inferenceError(errors.New("engine returned no logits")))
			return
		}
		if g.cfg.RepeatPenalty != 1 {
			window := seq[max(0, len(seq)-g.cfg.RepeatLastN):]
			logits.ApplyRepeatPenalty(scores, g.cfg.RepeatPenalty, window)
		}
		next := sampler.Sample(scores)
		seq = append(seq, next)
		g.stats.GeneratedTokens++

		if g.isStop(next) {
			return
		}
		text, _, err := dec.Push(next)
		if err != nil {
			fail(err)
			return
		}
		if !yield(Token{ID: next, Text: text}, nil) {
			return
		}
	}
	g.stats.HitLimit = true
}

func (g *Generation) isStop(id int) bool {
	for _, s := range g.cfg.StopIDs {
		if s == id {
			return true
		}
	}
	return false
}

func (g *Generation) finish(start time.Time, dec *DecodeBuffer) {
	g.stats.FinishReason = FinishStop
	g.stats.DroppedIDs = dec.Flush()
	g.stats.Duration = time.Since(start)
	if secs := g.stats.Duration.Seconds(); secs > 0 {
		g.stats.TokensPerSecond = float64(g.stats.GeneratedTokens) / secs
	}
	g.log.Debug("generation finished",
		"prompt_tokens", g.stats.PromptTokens,
		"generated_tokens", g.stats.GeneratedTokens,
		"hit_limit", g.stats.HitLimit,
		"dropped_ids", g.stats.DroppedIDs,
		"tok_per_sec", g.stats.TokensPerSecond,
	)
}
