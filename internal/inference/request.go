package inference

import "github.com/samcharles93/spindle/internal/logits"

// RequestOptions are optional sampling overrides. A nil field keeps the
// value from the layer below.
type RequestOptions struct {
	MaxTokens     *int
	Seed          *int64
	Temperature   *float64
	TopK          *int
	TopP          *float64
	MinP          *float64
	RepeatPenalty *float64
	RepeatLastN   *int
}

// GenDefaults are the sampling defaults shipped in a model's
// generation_config.json.
type GenDefaults struct {
	Temperature       *float64
	TopK              *int
	TopP              *float64
	RepetitionPenalty *float64
	EOSTokenIDs       []int
}

// ResolveRequest builds a GenerateConfig from the built-in defaults, then
// the model defaults, then each options layer in order, so later layers
// win. stopIDs is copied into the result.
func ResolveRequest(defaults GenDefaults, stopIDs []int, layers ...RequestOptions) GenerateConfig {
	cfg := GenerateConfig{
		MaxTokens:     DefaultMaxTokens,
		RepeatPenalty: DefaultRepeatPenalty,
		RepeatLastN:   DefaultRepeatLastN,
		Sampler: logits.SamplerConfig{
			Seed: DefaultSeed,
			TopP: 1,
		},
		StopIDs: append([]int(nil), stopIDs...),
	}

	if defaults.Temperature != nil && *defaults.Temperature >= 0 {
		cfg.Sampler.Temperature = float32(*defaults.Temperature)
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		cfg.Sampler.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		cfg.Sampler.TopP = float32(*defaults.TopP)
	}
	if defaults.RepetitionPenalty != nil && *defaults.RepetitionPenalty > 0 {
		cfg.RepeatPenalty = float32(*defaults.RepetitionPenalty)
	}

	for _, opts := range layers {
		if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
			cfg.MaxTokens = *opts.MaxTokens
		}
		if opts.Seed != nil {
			cfg.Sampler.Seed = *opts.Seed
		}
		if opts.Temperature != nil {
			cfg.Sampler.Temperature = float32(*opts.Temperature)
		}
		if opts.TopK != nil {
			cfg.Sampler.TopK = *opts.TopK
		}
		if opts.TopP != nil {
			cfg.Sampler.TopP = float32(*opts.TopP)
		}
		if opts.MinP != nil {
			cfg.Sampler.MinP = float32(*opts.MinP)
		}
		if opts.RepeatPenalty != nil {
			cfg.RepeatPenalty = float32(*opts.RepeatPenalty)
		}
		if opts.RepeatLastN != nil && *opts.RepeatLastN >= 0 {
			cfg.RepeatLastN = *opts.RepeatLastN
		}
	}
	return cfg
}
