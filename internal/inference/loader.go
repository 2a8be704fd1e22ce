package inference

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/samcharles93/spindle/internal/qwen3"
	"github.com/samcharles93/spindle/internal/tokenizer"
	"github.com/samcharles93/spindle/internal/toy"
)

// Files expected in a model directory.
const (
	TokenizerFile        = "tokenizer.json"
	TokenizerConfigFile  = "tokenizer_config.json"
	ConfigFile           = "config.json"
	WeightsFile          = "model.safetensors"
	GenerationConfigFile = "generation_config.json"
)

// Loader reads a model directory. The path fields override the matching
// file inside the directory.
type Loader struct {
	TokenizerJSONPath   string
	TokenizerConfigPath string
	ChatTemplatePath    string
	HFConfigPath        string
	// Name is reported to clients; it defaults to the directory name.
	Name string
}

func (l Loader) Load(modelDir string) (*Model, error) {
	if strings.TrimSpace(modelDir) == "" {
		return nil, fmt.Errorf("model path is required")
	}
	dir := filepath.Clean(modelDir)
	pick := func(override, name string) string {
		if override != "" {
			return override
		}
		return filepath.Join(dir, name)
	}

	engine, arch, vocab, err := loadEngine(pick(l.HFConfigPath, ConfigFile), filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, err
	}

	tokJSON, err := os.ReadFile(pick(l.TokenizerJSONPath, TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", TokenizerFile, err)
	}
	tokCfgRaw, err := readOptional(pick(l.TokenizerConfigPath, TokenizerConfigFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", TokenizerConfigFile, err)
	}
	tok, err := tokenizer.LoadHFTokenizerBytes(tokJSON, tokCfgRaw)
	if err != nil {
		return nil, tokenizerError(err)
	}
	tokCfg, err := tokenizer.ParseConfig(tokCfgRaw)
	if err != nil {
		return nil, tokenizerError(err)
	}
	if tok.VocabSize() > vocab {
		return nil, fmt.Errorf("tokenizer has %d tokens but the model only %d", tok.VocabSize(), vocab)
	}

	chatTemplate := tokCfg.ChatTemplate
	if l.ChatTemplatePath != "" {
		raw, err := os.ReadFile(l.ChatTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("load chat template: %w", err)
		}
		chatTemplate = string(raw)
	}

	genRaw, err := readOptional(filepath.Join(dir, GenerationConfigFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", GenerationConfigFile, err)
	}
	defaults := ParseGenerationDefaults(genRaw)

	name := l.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	extra := append([]int{tok.EOSID()}, defaults.EOSTokenIDs...)
	return &Model{
		Name:         name,
		Path:         dir,
		Arch:         arch,
		Engine:       engine,
		Tokenizer:    tok,
		ChatTemplate: chatTemplate,
		BOSToken:     tokCfg.BOSToken,
		AddBOS:       tokCfg.AddBOS,
		StopIDs:      ResolveStopTokens(tok, extra...),
		Defaults:     defaults,
		LoadedAt:     time.Now(),
	}, nil
}

// loadEngine picks the forward pass by the model_type in config.json.
func loadEngine(configPath, weightsPath string) (Engine, string, int, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, "", 0, fmt.Errorf("load model config: %w", err)
	}
	arch := gjson.GetBytes(raw, "model_type").String()
	switch arch {
	case toy.ModelType:
		cfg, err := toy.LoadConfig(configPath)
		if err != nil {
			return nil, "", 0, fmt.Errorf("load model config: %w", err)
		}
		m, err := toy.Load(weightsPath, cfg)
		if err != nil {
			return nil, "", 0, fmt.Errorf("load weights: %w", err)
		}
		return m, arch, cfg.VocabSize, nil
	case qwen3.ModelType:
		cfg, err := qwen3.LoadConfig(configPath)
		if err != nil {
			return nil, "", 0, fmt.Errorf("load model config: %w", err)
		}
		m, err := qwen3.Load(weightsPath, cfg)
		if err != nil {
			return nil, "", 0, fmt.Errorf("load weights: %w", err)
		}
		return m, arch, cfg.VocabSize, nil
	default:
		return nil, "", 0, fmt.Errorf("%w: %q", ErrUnsupportedArch, arch)
	}
}

func readOptional(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return raw, err
}

// ParseGenerationDefaults reads generation_config.json. Invalid or empty
// input yields zero defaults. eos_token_id may be a number or a list.
func ParseGenerationDefaults(raw []byte) GenDefaults {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return GenDefaults{}
	}
	root := gjson.ParseBytes(raw)
	var d GenDefaults
	if v := root.Get("temperature"); v.Type == gjson.Number {
		f := v.Float()
		d.Temperature = &f
	}
	if v := root.Get("top_k"); v.Type == gjson.Number {
		k := int(v.Int())
		d.TopK = &k
	}
	if v := root.Get("top_p"); v.Type == gjson.Number {
		f := v.Float()
		d.TopP = &f
	}
	if v := root.Get("repetition_penalty"); v.Type == gjson.Number {
		f := v.Float()
		d.RepetitionPenalty = &f
	}
	eos := root.Get("eos_token_id")
	if eos.IsArray() {
		for _, id := range eos.Array() {
			d.EOSTokenIDs = append(d.EOSTokenIDs, int(id.Int()))
		}
	} else if eos.Type == gjson.Number {
		d.EOSTokenIDs = []int{int(eos.Int())}
	}
	return d
}
