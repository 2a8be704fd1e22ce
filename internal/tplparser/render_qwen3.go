package tplparser

import (
	"fmt"
	"strings"
)

const qwen3ToolsPreamble = "# Tools\n\nYou may call one or more functions to assist with the user query.\n\nYou are provided with function signatures within <tools></tools> XML tags:\n<tools>"

const qwen3ToolsEpilogue = "\n</tools>\n\nFor each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:\n<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call><|im_end|>\n"

func renderQwen3(opts RenderOptions) (string, bool, error) {
	var b strings.Builder

	msgs := opts.Messages
	var system string
	hasSystem := len(msgs) > 0 && msgs[0].Role == "system"
	if hasSystem {
		s, err := contentText(msgs[0].Content)
		if err != nil {
			return "", false, fmt.Errorf("qwen3: system message: %w", err)
		}
		system = s
		msgs = msgs[1:]
	}

	if len(opts.Tools) > 0 {
		b.WriteString("<|im_start|>system\n")
		if hasSystem {
			b.WriteString(system)
			b.WriteString("\n\n")
		}
		b.WriteString(qwen3ToolsPreamble)
		for _, tool := range opts.Tools {
			j, err := jsonString(tool)
			if err != nil {
				return "", false, fmt.Errorf("qwen3: tool tojson: %w", err)
			}
			b.WriteString("\n")
			b.WriteString(j)
		}
		b.WriteString(qwen3ToolsEpilogue)
	} else if hasSystem {
		b.WriteString("<|im_start|>system\n")
		b.WriteString(system)
		b.WriteString("<|im_end|>\n")
	}

	lastQuery := lastUserQuery(msgs)

	for i, msg := range msgs {
		text, err := contentText(msg.Content)
		if err != nil {
			return "", false, fmt.Errorf("qwen3: %s message %d: %w", msg.Role, i, err)
		}
		switch msg.Role {
		case "user", "system":
			b.WriteString("<|im_start|>")
			b.WriteString(msg.Role)
			b.WriteString("\n")
			b.WriteString(text)
			b.WriteString("<|im_end|>\n")
		case "assistant":
			if i < lastQuery {
				text = stripThinking(text)
			}
			b.WriteString("<|im_start|>assistant\n")
			b.WriteString(text)
			for j, call := range msg.ToolCalls {
				if j > 0 || text != "" {
					b.WriteString("\n")
				}
				if err := writeQwenToolCall(&b, call); err != nil {
					return "", false, err
				}
			}
			b.WriteString("<|im_end|>\n")
		case "tool":
			if i == 0 || msgs[i-1].Role != "tool" {
				b.WriteString("<|im_start|>user")
			}
			b.WriteString("\n<tool_response>\n")
			b.WriteString(text)
			b.WriteString("\n</tool_response>")
			if i == len(msgs)-1 || msgs[i+1].Role != "tool" {
				b.WriteString("<|im_end|>\n")
			}
		default:
			return "", false, fmt.Errorf("qwen3: unsupported role %q", msg.Role)
		}
	}

	if opts.AddGenerationPrompt {
		b.WriteString("<|im_start|>assistant\n")
		if opts.DisableThinking {
			b.WriteString("<think>\n\n</think>\n\n")
		}
	}
	return b.String(), true, nil
}

func writeQwenToolCall(b *strings.Builder, call ToolCall) error {
	fn := call.Function
	b.WriteString("<tool_call>\n{\"name\": \"")
	b.WriteString(fn.Name)
	b.WriteString("\", \"arguments\": ")
	switch v := fn.Arguments.(type) {
	case string:
		if v == "" {
			v = "{}"
		}
		b.WriteString(v)
	case nil:
		b.WriteString("{}")
	default:
		j, err := jsonString(v)
		if err != nil {
			return fmt.Errorf("qwen3: tool arguments tojson: %w", err)
		}
		b.WriteString(j)
	}
	b.WriteString("}\n</tool_call>")
	return nil
}

// lastUserQuery returns the index of the last user turn that is not a
// wrapped tool response, or len(msgs) when there is none.
func lastUserQuery(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "user" {
			continue
		}
		text, _ := contentText(msgs[i].Content)
		if strings.HasPrefix(text, "<tool_response>") && strings.HasSuffix(text, "</tool_response>") {
			continue
		}
		return i
	}
	return len(msgs)
}

// stripThinking drops a leading reasoning block from an earlier assistant
// turn.
func stripThinking(text string) string {
	if cut := strings.LastIndex(text, "</think>"); cut >= 0 {
		return strings.TrimLeft(text[cut+len("</think>"):], "\n")
	}
	return text
}
