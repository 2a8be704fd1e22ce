package inference

import (
	"strings"
	"unicode/utf8"

	"github.com/samcharles93/spindle/internal/tokenizer"
)

// MaxDecodeBacklog is the most ids held back while waiting for a
// multi-byte character to complete.
const MaxDecodeBacklog = 3

// DecodeBuffer turns a stream of ids into text fragments that never split
// a character. An id whose decoding (together with any held-back ids)
// still contains U+FFFD is held back. When the backlog is already full and
// the next id still does not complete the character, the backlog and the
// new id are dropped.
type DecodeBuffer struct {
	tok     tokenizer.Tokenizer
	backlog []int
}

func NewDecodeBuffer(tok tokenizer.Tokenizer) *DecodeBuffer {
	return &DecodeBuffer{tok: tok, backlog: make([]int, 0, MaxDecodeBacklog)}
}

// Push adds id and returns the text it completes, if any. ok is false when
// nothing is ready yet.
func (b *DecodeBuffer) Push(id int) (text string, ok bool, err error) {
	ids := append(b.backlog, id)
	text, err = safeDecode(b.tok, ids)
	if err != nil {
		b.backlog = b.backlog[:0]
		return "", false, tokenizerError(err)
	}
	if strings.ContainsRune(text, utf8.RuneError) {
		if len(ids) > MaxDecodeBacklog {
			b.backlog = b.backlog[:0]
		} else {
			b.backlog = ids
		}
		return "", false, nil
	}
	b.backlog = b.backlog[:0]
	return text, true, nil
}

// Backlog returns a copy of the held-back ids.
func (b *DecodeBuffer) Backlog() []int {
	return append([]int(nil), b.backlog...)
}

// Flush discards the backlog and reports how many ids were dropped.
func (b *DecodeBuffer) Flush() int {
	n := len(b.backlog)
	b.backlog = b.backlog[:0]
	return n
}
