package main

import (
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/telemetry"
)

var (
	modelPath         string
	modelName         string
	tokenizerJSONPath string
	tokenizerConfig   string
	chatTemplate      string
	logLevel          string
	logFormat         string
	debug             bool
	telemetryEnabled  bool

	maxTokens     int
	temperature   float64
	topK          int
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int
	seed          int64

	fileConfig Config
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-path",
			Aliases:     []string{"model", "m"},
			Usage:       "model directory (tokenizer.json, config.json, model.safetensors)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "model-name",
			Usage:       "model name reported to clients",
			Value:       "qwen3-0.6b",
			Destination: &modelName,
		},
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Usage:       "override path to tokenizer.json",
			Destination: &tokenizerJSONPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "override path to tokenizer_config.json",
			Destination: &tokenizerConfig,
		},
		&cli.StringFlag{
			Name:        "chat-template",
			Usage:       "override path to chat_template.jinja",
			Destination: &chatTemplate,
		},
	}
}

func samplingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum sampled tokens per generation",
			Value:       inference.DefaultMaxTokens,
			Destination: &maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (0 is greedy)",
			Destination: &temperature,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "top-k sampling (0 disables)",
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling threshold",
			Value:       1,
			Destination: &topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Usage:       "min-p sampling threshold (0 disables)",
			Destination: &minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Usage:       "penalty for recently sampled tokens (1 disables)",
			Value:       inference.DefaultRepeatPenalty,
			Destination: &repeatPenalty,
		},
		&cli.IntFlag{
			Name:        "repeat-last-n",
			Usage:       "number of trailing tokens the repeat penalty covers",
			Value:       inference.DefaultRepeatLastN,
			Destination: &repeatLastN,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampler seed",
			Value:       inference.DefaultSeed,
			Destination: &seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, tint, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func telemetryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "telemetry",
			Usage:       "export trace spans (OTLP when " + telemetry.EndpointEnv + " is set, otherwise stderr)",
			Destination: &telemetryEnabled,
		},
	}
}

func newLogger(w io.Writer) (logger.Logger, error) {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	return logger.ForFormat(logFormat, w, level)
}

// samplingOptions collects the sampling values given on the command line
// or in the config file. Values left at their defaults stay nil so the
// model's generation_config.json still applies.
func samplingOptions(c *cli.Command, cfg Config) inference.RequestOptions {
	var opts inference.RequestOptions
	pickInt(c, "max-tokens", maxTokens, cfg.MaxTokens, &opts.MaxTokens)
	pickInt(c, "top-k", topK, cfg.TopK, &opts.TopK)
	pickInt(c, "repeat-last-n", repeatLastN, cfg.RepeatLastN, &opts.RepeatLastN)
	pickFloat(c, "temperature", temperature, cfg.Temperature, &opts.Temperature)
	pickFloat(c, "top-p", topP, cfg.TopP, &opts.TopP)
	pickFloat(c, "min-p", minP, cfg.MinP, &opts.MinP)
	pickFloat(c, "repeat-penalty", repeatPenalty, cfg.RepeatPenalty, &opts.RepeatPenalty)
	switch {
	case c.IsSet("seed"):
		opts.Seed = &seed
	case cfg.Seed != nil:
		opts.Seed = cfg.Seed
	}
	return opts
}

func pickInt(c *cli.Command, name string, flag int, file *int, dst **int) {
	switch {
	case c.IsSet(name):
		*dst = &flag
	case file != nil:
		*dst = file
	}
}

func pickFloat(c *cli.Command, name string, flag float64, file *float64, dst **float64) {
	switch {
	case c.IsSet(name):
		*dst = &flag
	case file != nil:
		*dst = file
	}
}
