package tokenizer

// Tokenizer is the text/id conversion used by the generation pipeline.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Vocabulary resolves named tokens such as end-of-sequence markers.
type Vocabulary interface {
	TokenID(token string) (int, bool)
}
