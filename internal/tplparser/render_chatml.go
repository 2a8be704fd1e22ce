package tplparser

import (
	"fmt"
	"strings"
)

// renderChatML is the plain <|im_start|>role ... <|im_end|> layout. Tool
// calls on assistant turns are written in the same <tool_call> form the
// Qwen renderer uses so that history round-trips.
func renderChatML(opts RenderOptions) (string, bool, error) {
	var b strings.Builder

	if !opts.AddBOS && opts.BOSToken != "" {
		b.WriteString(opts.BOSToken)
	}

	for i, m := range opts.Messages {
		text, err := contentText(m.Content)
		if err != nil {
			return "", false, fmt.Errorf("chatml: message %d: %w", i, err)
		}
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteString("\n")
		b.WriteString(text)
		for j, call := range m.ToolCalls {
			if j > 0 || text != "" {
				b.WriteString("\n")
			}
			if err := writeQwenToolCall(&b, call); err != nil {
				return "", false, err
			}
		}
		b.WriteString("<|im_end|>\n")
	}

	if opts.AddGenerationPrompt {
		b.WriteString("<|im_start|>assistant\n")
	}
	return b.String(), true, nil
}
