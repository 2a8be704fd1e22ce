package inference

import (
	"slices"

	"github.com/samcharles93/spindle/internal/tokenizer"
)

// StopTokenNames are the end-of-sequence markers looked up by name in the
// vocabulary.
var StopTokenNames = []string{"<|endoftext|>", "<|im_end|>"}

// ResolveStopTokens returns the ids of StopTokenNames present in vocab,
// followed by any extra ids (the tokenizer or generation config EOS).
// Negative and duplicate ids are skipped.
func ResolveStopTokens(vocab tokenizer.Vocabulary, extra ...int) []int {
	var ids []int
	add := func(id int) {
		if id >= 0 && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if vocab != nil {
		for _, name := range StopTokenNames {
			if id, ok := vocab.TokenID(name); ok {
				add(id)
			}
		}
	}
	for _, id := range extra {
		add(id)
	}
	return ids
}
