package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// pieceTokenizer decodes ids to fixed byte strings. Encode maps each rune
// of the prompt through runeIDs.
type pieceTokenizer struct {
	pieces  []string
	runeIDs map[rune]int
	named   map[string]int
}

func (t *pieceTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		id, ok := t.runeIDs[r]
		if !ok {
			return nil, fmt.Errorf("rune %q not in vocabulary", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *pieceTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.pieces) {
			return "", fmt.Errorf("id %d out of range", id)
		}
		b.WriteString(t.pieces[id])
	}
	return strings.ToValidUTF8(b.String(), "�"), nil
}

func (t *pieceTokenizer) TokenID(token string) (int, bool) {
	id, ok := t.named[token]
	return id, ok
}

const (
	idEOS = iota
	idHel
	idLo
	idEmoji1
	idEmoji2
	idEmoji3
	idEmoji4
	idWorld
	idBadByte
	testVocab
)

func newPieceTokenizer() *pieceTokenizer {
	return &pieceTokenizer{
		pieces: []string{
			idEOS:     "<|im_end|>",
			idHel:     "Hel",
			idLo:      "lo",
			idEmoji1:  "\xF0",
			idEmoji2:  "\x9F",
			idEmoji3:  "\x98",
			idEmoji4:  "\x80",
			idWorld:   " world",
			idBadByte: "\xFF",
		},
		runeIDs: map[rune]int{'h': idHel, 'l': idLo, 'w': idWorld},
		named:   map[string]int{"<|im_end|>": idEOS},
	}
}

type forwardCall struct {
	tokens []int
	offset int
}

// scriptEngine returns one-hot logits selecting script[i] on call i. When
// failAt matches the call index, Forward returns failErr instead; panicAt
// makes it panic.
type scriptEngine struct {
	mu      sync.Mutex
	script  []int
	failAt  int
	failErr error
	panicAt int
	logits  []float32

	calls   []forwardCall
	cleared int
}

func newScriptEngine(script ...int) *scriptEngine {
	return &scriptEngine{script: script, failAt: -1, panicAt: -1}
}

func (e *scriptEngine) Forward(_ context.Context, tokens []int, offset int) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := len(e.calls)
	e.calls = append(e.calls, forwardCall{tokens: append([]int(nil), tokens...), offset: offset})
	if step == e.panicAt {
		panic("kernel exploded")
	}
	if step == e.failAt {
		return nil, e.failErr
	}
	if e.logits != nil {
		return append([]float32(nil), e.logits...), nil
	}
	out := make([]float32, testVocab)
	out[e.script[step%len(e.script)]] = 10
	return out, nil
}

func (e *scriptEngine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleared++
}

func (e *scriptEngine) clearCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleared
}
