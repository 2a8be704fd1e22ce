package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/tplparser"
)

type pieceTokenizer struct{ pieces []string }

func (t pieceTokenizer) Encode(string) ([]int, error) { return []int{0}, nil }

func (t pieceTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.pieces) {
			return "", fmt.Errorf("id %d out of range", id)
		}
		b.WriteString(t.pieces[id])
	}
	return b.String(), nil
}

// stepEngine samples ids 1..len-1 in order, then id 0.
type stepEngine struct {
	vocab int
	pos   int
}

func (e *stepEngine) Forward(context.Context, []int, int) ([]float32, error) {
	out := make([]float32, e.vocab)
	e.pos++
	if e.pos < e.vocab {
		out[e.pos] = 1
	} else {
		out[0] = 1
	}
	return out, nil
}

func (e *stepEngine) ClearCache() { e.pos = 0 }

func newTestModel(pieces ...string) *inference.Model {
	all := append([]string{"<|im_end|>"}, pieces...)
	return &inference.Model{
		Name:      "test",
		Arch:      "chatml",
		Engine:    &stepEngine{vocab: len(all)},
		Tokenizer: pieceTokenizer{pieces: all},
		StopIDs:   []int{0},
	}
}

func rawInput(prompt string) inference.PromptRenderInput {
	return inference.PromptRenderInput{
		Messages:   []tplparser.Message{{Role: "user", Content: prompt}},
		NoTemplate: true,
	}
}

func TestRunGeneratePrintsContentAndCalls(t *testing.T) {
	t.Parallel()
	m := newTestModel("Checking. ", "<tool_call>", `{"name":"f","arguments":{"a":1}}`, "</tool_call>")
	ctx := logger.WithContext(context.Background(), logger.Discard())

	var out strings.Builder
	if err := runGenerate(ctx, m, rawInput("hi"), inference.RequestOptions{}, &out); err != nil {
		t.Fatalf("runGenerate: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "Checking. \ntool_call: ") {
		t.Fatalf("output = %q", got)
	}
	if !strings.Contains(got, `"name":"f","arguments":"{\"a\":1}"`) {
		t.Fatalf("tool call line missing: %q", got)
	}
	if strings.Contains(got, "<tool_call>") {
		t.Fatalf("markers leaked into output: %q", got)
	}
}

func TestRunGenerateMaxTokens(t *testing.T) {
	t.Parallel()
	m := newTestModel("one", " two", " three")
	ctx := logger.WithContext(context.Background(), logger.Discard())

	n := 2
	var out strings.Builder
	if err := runGenerate(ctx, m, rawInput("count"), inference.RequestOptions{MaxTokens: &n}, &out); err != nil {
		t.Fatalf("runGenerate: %v", err)
	}
	if out.String() != "one two\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunGenerateIncompleteCall(t *testing.T) {
	t.Parallel()
	m := newTestModel("<tool_call>", `{"name":"f"`)
	ctx := logger.WithContext(context.Background(), logger.Discard())

	var out strings.Builder
	err := runGenerate(ctx, m, rawInput("go"), inference.RequestOptions{}, &out)
	if err == nil {
		t.Fatal("expected error for an unterminated tool call")
	}
	if !strings.Contains(out.String(), `"incomplete":true`) {
		t.Fatalf("best-effort call not printed: %q", out.String())
	}
}

func TestReadTools(t *testing.T) {
	t.Parallel()
	tools, err := readTools("")
	if err != nil || tools != nil {
		t.Fatalf("empty path = %v, %v", tools, err)
	}

	dir := t.TempDir()
	good := filepath.Join(dir, "tools.json")
	if err := os.WriteFile(good, []byte(`[{"type":"function","function":{"name":"f"}}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tools, err = readTools(good)
	if err != nil || len(tools) != 1 {
		t.Fatalf("readTools = %v, %v", tools, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"not":"a list"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readTools(bad); err == nil {
		t.Fatal("expected error for non-array tools")
	}
}
