package inference

import "errors"

var (
	ErrModelNotInitialized = errors.New("model not initialized")
	ErrTokenizer           = errors.New("tokenizer error")
	ErrTemplateRender      = errors.New("template render error")
	ErrInference           = errors.New("inference error")
	ErrGenerationConsumed  = errors.New("generation already consumed")
	ErrUnsupportedArch     = errors.New("unsupported model architecture")
)

// kindError tags an underlying error with one of the sentinel kinds so
// callers can branch with errors.Is while the message keeps the cause.
type kindError struct {
	kind error
	err  error
}

func (e kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func tokenizerError(err error) error {
	return kindError{kind: ErrTokenizer, err: err}
}

func templateError(err error) error {
	return kindError{kind: ErrTemplateRender, err: err}
}

func inferenceError(err error) error {
	return kindError{kind: ErrInference, err: err}
}
