package inference

import (
	"context"
	"fmt"

	"github.com/samcharles93/spindle/internal/tokenizer"
)

// Engine runs the model. Forward consumes tokens starting at position
// offset, updates the key/value cache, and returns the logits for the last
// token. ClearCache resets the cache to empty.
type Engine interface {
	Forward(ctx context.Context, tokens []int, offset int) ([]float32, error)
	ClearCache()
}

func safeForward(ctx context.Context, e Engine, tokens []int, offset int) (logits []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	return e.Forward(ctx, tokens, offset)
}

func safeEncode(tok tokenizer.Tokenizer, prompt string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(prompt)
}

func safeDecode(tok tokenizer.Tokenizer, ids []int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return tok.Decode(ids)
}
