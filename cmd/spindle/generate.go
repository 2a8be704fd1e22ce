package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/toolcall"
	"github.com/samcharles93/spindle/internal/tplparser"
)

func generateCmd() *cli.Command {
	var (
		prompt     string
		system     string
		toolsPath  string
		noTemplate bool
		noThink    bool
	)

	flags := append(commonModelFlags(), samplingFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags, telemetryFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "user message (defaults to the remaining arguments)",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "system",
			Usage:       "system message",
			Destination: &system,
		},
		&cli.StringFlag{
			Name:        "tools",
			Usage:       "path to a JSON array of function tool definitions",
			Destination: &toolsPath,
		},
		&cli.BoolFlag{
			Name:        "no-template",
			Usage:       "send the prompt as-is without the chat template",
			Destination: &noTemplate,
		},
		&cli.BoolFlag{
			Name:        "no-think",
			Usage:       "disable the thinking section of the chat template",
			Destination: &noThink,
		},
	)

	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"gen"},
		Usage:     "Run one chat turn and print the reply and tool calls",
		ArgsUsage: "[prompt]",
		Flags:     flags,
		Before:    setup,
		After:     teardown,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if prompt == "" {
				prompt = strings.Join(cmd.Args().Slice(), " ")
			}
			if strings.TrimSpace(prompt) == "" {
				return errors.New("generate: a prompt is required")
			}
			tools, err := readTools(toolsPath)
			if err != nil {
				return err
			}

			var msgs []tplparser.Message
			if system != "" {
				msgs = append(msgs, tplparser.Message{Role: "system", Content: system})
			}
			msgs = append(msgs, tplparser.Message{Role: "user", Content: prompt})

			m, err := loadModel()
			if err != nil {
				return err
			}
			in := inference.PromptRenderInput{
				Messages:        msgs,
				Tools:           tools,
				NoTemplate:      noTemplate,
				DisableThinking: noThink,
			}
			return runGenerate(ctx, m, in, samplingOptions(cmd, fileConfig), os.Stdout)
		},
	}
}

// readTools loads tool definitions in the chat completions request shape.
func readTools(path string) ([]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools: %w", err)
	}
	var tools []any
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("parse tools %s: %w", path, err)
	}
	return tools, nil
}

type printedCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Incomplete bool   `json:"incomplete,omitempty"`
}

// runGenerate streams the reply to w as it is produced. Content is written
// verbatim; each tool call is written on its own line as JSON once it
// closes.
func runGenerate(ctx context.Context, m *inference.Model, in inference.PromptRenderInput, opts inference.RequestOptions, w io.Writer) error {
	log := logger.FromContext(ctx)
	text, err := m.RenderPrompt(in)
	if err != nil {
		return err
	}
	cfg := inference.ResolveRequest(m.Defaults, m.StopIDs, opts)
	gen, err := m.Controller(log).Generate(ctx, text, cfg)
	if err != nil {
		return err
	}

	ex := toolcall.New(toolcall.NewCallID)
	for ev, err := range ex.Events(gen.Text()) {
		if err != nil {
			return err
		}
		switch ev.Kind {
		case toolcall.EventContent:
			if _, err := io.WriteString(w, ev.Text); err != nil {
				return err
			}
		case toolcall.EventToolCall:
			if ev.Err != nil {
				log.Warn("tool call payload not parseable", "call_id", ev.Call.ID, "error", ev.Err)
			}
			b, err := json.Marshal(printedCall{
				ID:         ev.Call.ID,
				Name:       ev.Call.Name,
				Arguments:  ev.Call.Args.Text(),
				Incomplete: ev.Call.Incomplete,
			})
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "\ntool_call: %s\n", b); err != nil {
				return err
			}
		}
	}
	_, _ = io.WriteString(w, "\n")

	st := gen.Stats()
	log.Info("generation complete",
		"prompt_tokens", st.PromptTokens,
		"completion_tokens", st.GeneratedTokens,
		"tool_calls", ex.Calls(),
		"hit_limit", st.HitLimit,
		"tok_per_sec", fmt.Sprintf("%.2f", st.TokensPerSecond),
	)
	if ex.Truncated() {
		return errors.New("generation ended inside a tool call")
	}
	return nil
}
