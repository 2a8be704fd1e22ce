package inference

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/spindle/internal/qwen3"
	"github.com/samcharles93/spindle/internal/toy"
	"github.com/samcharles93/spindle/internal/tplparser"
)

const loaderTokenizerJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {"h":0,"e":1,"l":2,"o":3,"Ġ":4,"w":5,"r":6,"d":7,"he":8,"ll":9,"hell":10,"hello":11,"Ã":12,"©":13},
		"merges": ["h e", "l l", "he ll", "hell o"]
	},
	"added_tokens": [
		{"id": 14, "content": "<|im_end|>", "special": true},
		{"id": 15, "content": "<tool_call>", "special": false},
		{"id": 16, "content": "<|endoftext|>", "special": true}
	]
}`

const loaderTokenizerConfig = `{
	"eos_token": "<|im_end|>",
	"chat_template": "{% for m in messages %}<|im_start|>{{ m.role }}\n{{ m.content }}<|im_end|>\n{% endfor %}"
}`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

type testTensor struct {
	shape []int
	data  []float32
}

func writeTensors(t *testing.T, path string, tensors map[string]testTensor) {
	t.Helper()
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(tensors))
	var data []byte
	for _, name := range names {
		tn := tensors[name]
		start := len(data)
		for _, v := range tn.data {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
		header[name] = map[string]any{
			"dtype":        "F32",
			"shape":        tn.shape,
			"data_offsets": []int{start, len(data)},
		}
	}
	hb, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(hb)))
	buf = append(buf, hb...)
	buf = append(buf, data...)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
}

// filled returns rows*cols values cycling through a small fixed pattern.
func filled(rows, cols int) testTensor {
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = float32(i%7)/7 - 0.4
	}
	shape := []int{rows, cols}
	if cols == 1 {
		shape = []int{rows}
	}
	return testTensor{shape: shape, data: data}
}

func writeModelDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tiny-chat")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, dir, ConfigFile, `{"model_type":"toy","vocab_size":17,"hidden_size":2,"tie_word_embeddings":true}`)
	writeFile(t, dir, TokenizerFile, loaderTokenizerJSON)
	writeFile(t, dir, TokenizerConfigFile, loaderTokenizerConfig)
	writeFile(t, dir, GenerationConfigFile, `{"temperature":0.7,"top_k":20,"eos_token_id":[14,16]}`)
	writeTensors(t, filepath.Join(dir, WeightsFile), map[string]testTensor{
		toy.EmbeddingTensor: filled(17, 2),
	})
	return dir
}

func TestLoaderLoadsModelDirectory(t *testing.T) {
	t.Parallel()
	dir := writeModelDir(t)

	m, err := Loader{}.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "tiny-chat" || m.Arch != "toy" {
		t.Fatalf("name/arch = %q/%q", m.Name, m.Arch)
	}
	if !slices.Equal(m.StopIDs, []int{16, 14}) {
		t.Fatalf("stop ids = %v", m.StopIDs)
	}
	if m.Defaults.Temperature == nil || *m.Defaults.Temperature != 0.7 {
		t.Fatalf("temperature default = %v", m.Defaults.Temperature)
	}

	prompt, err := m.RenderPrompt(PromptRenderInput{
		Messages: []tplparser.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if want := "<|im_start|>user\nhello<|im_end|>\n<|im_start|>assistant\n"; prompt != want {
		t.Fatalf("prompt = %q, want %q", prompt, want)
	}

	g, err := m.Controller(nil).Generate(context.Background(), "hello", ResolveRequest(m.Defaults, m.StopIDs))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	steps := 0
	for _, err := range g.Tokens() {
		if err != nil {
			t.Fatalf("Tokens: %v", err)
		}
		if steps++; steps == 4 {
			break
		}
	}
	if n := m.Engine.(*toy.Model).CacheLen(); n != 0 {
		t.Fatalf("cache holds %d positions after generation", n)
	}
}

func writeQwen3Dir(t *testing.T) string {
	t.Helper()
	dir := writeModelDir(t)
	writeFile(t, dir, ConfigFile, `{
		"model_type": "qwen3",
		"vocab_size": 17,
		"hidden_size": 4,
		"intermediate_size": 6,
		"num_hidden_layers": 1,
		"num_attention_heads": 2,
		"num_key_value_heads": 1,
		"head_dim": 2,
		"tie_word_embeddings": true
	}`)
	writeTensors(t, filepath.Join(dir, WeightsFile), map[string]testTensor{
		qwen3.EmbeddingTensor:                            filled(17, 4),
		qwen3.OutputNormTensor:                           filled(4, 1),
		"model.layers.0.input_layernorm.weight":          filled(4, 1),
		"model.layers.0.post_attention_layernorm.weight": filled(4, 1),
		"model.layers.0.self_attn.q_norm.weight":         filled(2, 1),
		"model.layers.0.self_attn.k_norm.weight":         filled(2, 1),
		"model.layers.0.self_attn.q_proj.weight":         filled(4, 4),
		"model.layers.0.self_attn.k_proj.weight":         filled(2, 4),
		"model.layers.0.self_attn.v_proj.weight":         filled(2, 4),
		"model.layers.0.self_attn.o_proj.weight":         filled(4, 4),
		"model.layers.0.mlp.gate_proj.weight":            filled(6, 4),
		"model.layers.0.mlp.up_proj.weight":              filled(6, 4),
		"model.layers.0.mlp.down_proj.weight":            filled(4, 6),
	})
	return dir
}

func TestLoaderLoadsQwen3Weights(t *testing.T) {
	t.Parallel()
	m, err := Loader{}.Load(writeQwen3Dir(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Arch != qwen3.ModelType {
		t.Fatalf("arch = %q", m.Arch)
	}
	engine, ok := m.Engine.(*qwen3.Model)
	if !ok {
		t.Fatalf("engine = %T, want *qwen3.Model", m.Engine)
	}

	prompt, err := m.RenderPrompt(PromptRenderInput{
		Messages: []tplparser.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if !strings.HasSuffix(prompt, "<|im_start|>assistant\n") {
		t.Fatalf("prompt = %q", prompt)
	}

	g, err := m.Controller(nil).Generate(context.Background(), "hello", ResolveRequest(m.Defaults, m.StopIDs))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	steps := 0
	for _, err := range g.Tokens() {
		if err != nil {
			t.Fatalf("Tokens: %v", err)
		}
		if steps++; steps == 3 {
			break
		}
	}
	if n := engine.CacheLen(); n != 0 {
		t.Fatalf("cache holds %d positions after generation", n)
	}
}

func TestLoaderRejectsUnknownArchitecture(t *testing.T) {
	t.Parallel()
	for _, body := range []string{
		`{"model_type":"llama","vocab_size":17,"hidden_size":2}`,
		`{"vocab_size":17,"hidden_size":2}`,
	} {
		dir := writeModelDir(t)
		writeFile(t, dir, ConfigFile, body)
		if _, err := (Loader{}).Load(dir); !errors.Is(err, ErrUnsupportedArch) {
			t.Errorf("%s: err = %v, want ErrUnsupportedArch", body, err)
		}
	}
}

func TestLoaderNameOverrideAndTemplateFile(t *testing.T) {
	t.Parallel()
	dir := writeModelDir(t)
	tpl := filepath.Join(t.TempDir(), "template.jinja")
	if err := os.WriteFile(tpl, []byte("<tools>{{ tools }}</tools>"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	m, err := Loader{Name: "qwen3-0.6b", ChatTemplatePath: tpl}.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "qwen3-0.6b" {
		t.Fatalf("name = %q", m.Name)
	}
	prompt, err := m.RenderPrompt(PromptRenderInput{
		Messages: []tplparser.Message{{Role: "user", Content: "hi"}},
		Tools:    []any{map[string]any{"type": "function", "function": map[string]any{"name": "f"}}},
	})
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if !strings.Contains(prompt, "<tools>") || !strings.Contains(prompt, `"name":"f"`) {
		t.Fatalf("prompt does not list tools: %q", prompt)
	}
}

func TestLoaderMissingFiles(t *testing.T) {
	t.Parallel()
	dir := writeModelDir(t)
	if err := os.Remove(filepath.Join(dir, TokenizerFile)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := (Loader{}).Load(dir); err == nil {
		t.Fatal("expected error without tokenizer.json")
	}
	if _, err := (Loader{}).Load(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRenderPromptErrors(t *testing.T) {
	t.Parallel()
	m := &Model{Arch: "unknown"}
	_, err := m.RenderPrompt(PromptRenderInput{Messages: []tplparser.Message{{Role: "user", Content: "x"}}})
	if !errors.Is(err, ErrTemplateRender) {
		t.Fatalf("err = %v, want ErrTemplateRender", err)
	}
	if _, err := m.RenderPrompt(PromptRenderInput{}); !errors.Is(err, ErrTemplateRender) {
		t.Fatalf("empty messages err = %v", err)
	}

	raw, err := m.RenderPrompt(PromptRenderInput{
		NoTemplate: true,
		Messages:   []tplparser.Message{{Role: "user", Content: "raw prompt"}},
	})
	if err != nil || raw != "raw prompt" {
		t.Fatalf("NoTemplate = (%q, %v)", raw, err)
	}
}

func TestParseGenerationDefaults(t *testing.T) {
	t.Parallel()
	d := ParseGenerationDefaults([]byte(`{"temperature":0.6,"top_p":0.95,"top_k":20,"repetition_penalty":1.05,"eos_token_id":151645}`))
	if *d.Temperature != 0.6 || *d.TopP != 0.95 || *d.TopK != 20 || *d.RepetitionPenalty != 1.05 {
		t.Fatalf("defaults = %+v", d)
	}
	if !slices.Equal(d.EOSTokenIDs, []int{151645}) {
		t.Fatalf("eos ids = %v", d.EOSTokenIDs)
	}
	if d := ParseGenerationDefaults([]byte("not json")); d.Temperature != nil {
		t.Fatalf("invalid json produced %+v", d)
	}
}
