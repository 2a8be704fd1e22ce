package tokenizer

import (
	"slices"
	"testing"

	"github.com/goccy/go-json"
)

const testTokenizerJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {"h":0,"e":1,"l":2,"o":3,"Ġ":4,"w":5,"r":6,"d":7,"he":8,"ll":9,"hell":10,"hello":11,"Ã":12,"©":13},
		"merges": ["h e", ["l", "l"], "he ll", "hell o"]
	},
	"added_tokens": [
		{"id": 14, "content": "<|im_end|>", "special": true},
		{"id": 15, "content": "<tool_call>", "special": false}
	]
}`

func newTestTokenizer(t *testing.T) *HFTokenizer {
	t.Helper()
	tok, err := LoadHFTokenizerBytes([]byte(testTokenizerJSON), nil)
	if err != nil {
		t.Fatalf("load tokenizer: %v", err)
	}
	return tok
}

func TestEncodeAppliesMergesAndAddedTokens(t *testing.T) {
	t.Parallel()
	tok := newTestTokenizer(t)

	tests := []struct {
		text string
		want []int
	}{
		{"hello", []int{11}},
		{"hello<|im_end|>", []int{11, 14}},
		{" wo", []int{4, 5, 3}},
		{"<tool_call>he", []int{15, 8}},
	}
	for _, tc := range tests {
		got, err := tok.Encode(tc.text)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tc.text, err)
		}
		if !slices.Equal(got, tc.want) {
			t.Fatalf("Encode(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestEncodeUnknownSymbol(t *testing.T) {
	t.Parallel()
	tok := newTestTokenizer(t)
	if _, err := tok.Encode("zzz"); err == nil {
		t.Fatal("expected error for symbol outside the vocabulary")
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()
	tok := newTestTokenizer(t)

	tests := []struct {
		ids  []int
		want string
	}{
		{[]int{11, 4, 5, 3, 6, 2, 7}, "hello world"},
		{[]int{14}, "<|im_end|>"},
		{[]int{12, 13}, "é"},
		{[]int{12}, "�"},
		{[]int{8, 12}, "he�"},
	}
	for _, tc := range tests {
		got, err := tok.Decode(tc.ids)
		if err != nil {
			t.Fatalf("Decode(%v): %v", tc.ids, err)
		}
		if got != tc.want {
			t.Fatalf("Decode(%v) = %q, want %q", tc.ids, got, tc.want)
		}
	}

	if _, err := tok.Decode([]int{99}); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestTokenID(t *testing.T) {
	t.Parallel()
	tok := newTestTokenizer(t)

	if id, ok := tok.TokenID("<|im_end|>"); !ok || id != 14 {
		t.Fatalf("TokenID(<|im_end|>) = %d, %v", id, ok)
	}
	if _, ok := tok.TokenID("<|endoftext|>"); ok {
		t.Fatal("expected missing token")
	}
	if got := tok.VocabSize(); got != 16 {
		t.Fatalf("VocabSize = %d, want 16", got)
	}
}

func TestLoadRejectsUnsupportedModel(t *testing.T) {
	t.Parallel()
	_, err := LoadHFTokenizerBytes([]byte(`{"model":{"type":"WordPiece","vocab":{},"merges":[]}}`), nil)
	if err == nil {
		t.Fatal("expected unsupported tokenizer model error")
	}
}

func TestLoadAppliesConfig(t *testing.T) {
	t.Parallel()
	cfg := []byte(`{"add_eos_token": true, "eos_token": {"content": "<|im_end|>"}}`)
	tok, err := LoadHFTokenizerBytes([]byte(testTokenizerJSON), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tok.EOSID() != 14 || tok.BOSID() != -1 {
		t.Fatalf("unexpected special ids bos=%d eos=%d", tok.BOSID(), tok.EOSID())
	}
	got, err := tok.Encode("he")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !slices.Equal(got, []int{8, 14}) {
		t.Fatalf("Encode with add_eos = %v", got)
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Config
	}{
		{
			name: "plain strings",
			raw:  `{"add_bos_token":false,"bos_token":null,"eos_token":"<|im_end|>","chat_template":"{{ messages }}"}`,
			want: Config{EOSToken: "<|im_end|>", ChatTemplate: "{{ messages }}"},
		},
		{
			name: "named templates",
			raw:  `{"add_bos_token":true,"bos_token":{"content":"<s>"},"chat_template":[{"name":"tool_use","template":"T"},{"name":"default","template":"D"}]}`,
			want: Config{AddBOS: true, BOSToken: "<s>", ChatTemplate: "D"},
		},
		{
			name: "empty",
			raw:  ``,
			want: Config{},
		},
	}
	for _, tc := range tests {
		got, err := ParseConfig([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}

	if _, err := ParseConfig([]byte(`{`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestBuildPatternDropsLookahead(t *testing.T) {
	t.Parallel()
	raw := `{"type":"Sequence","pretokenizers":[{"type":"Split","pattern":{"Regex":"(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\\r\\n\\p{L}\\p{N}]?\\p{L}+|\\p{N}| ?[^\\s\\p{L}\\p{N}]+[\\r\\n]*|\\s*[\\r\\n]+|\\s+(?!\\S)|\\s+"}}]}`
	var pre hfPreTokenizer
	if err := json.Unmarshal([]byte(raw), &pre); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	re, err := buildPattern(pre)
	if err != nil {
		t.Fatalf("buildPattern: %v", err)
	}
	got := re.FindAllString("Hi 42", -1)
	want := []string{"Hi", " ", "4", "2"}
	if !slices.Equal(got, want) {
		t.Fatalf("split = %q, want %q", got, want)
	}
}
