package api

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/tplparser"
)

var knownRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

func chatMessagesToTemplateMessages(msgs []ChatMessage) ([]tplparser.Message, error) {
	out := make([]tplparser.Message, 0, len(msgs))
	for i, m := range msgs {
		if !knownRoles[m.Role] {
			return nil, newInvalidRequest(fmt.Sprintf("messages[%d].role", i), fmt.Sprintf("unsupported role %q", m.Role))
		}
		content, err := messageContent(m.Content)
		if err != nil {
			return nil, newInvalidRequest(fmt.Sprintf("messages[%d].content", i), err.Error())
		}
		if m.Role == "assistant" {
			content = inference.SanitizeAssistantForContext(content)
		}
		msg := tplparser.Message{
			Role:       m.Role,
			Content:    content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}

		if len(m.ToolCalls) > 0 {
			calls := make([]tplparser.ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, tplparser.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					Function: tplparser.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: parseToolArguments(tc.Function.Arguments),
					},
				})
			}
			msg.ToolCalls = calls
		}
		out = append(out, msg)
	}
	return out, nil
}

// messageContent flattens a string or a list of text parts. Non-text
// parts are ignored.
func messageContent(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []any:
		var parts []string
		for _, part := range v {
			pm, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if typ, _ := pm["type"].(string); typ != "text" {
				continue
			}
			if text, ok := pm["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n"), nil
	default:
		return "", fmt.Errorf("expected string or array of content parts, got %T", content)
	}
}

// parseToolArguments decodes an arguments string so the template writes it
// as JSON; anything that is not an object is kept verbatim.
func parseToolArguments(raw string) any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		return m
	}
	return raw
}

func chatToolsToTemplateTools(tools []ChatTool) ([]any, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]any, 0, len(tools))
	for i, t := range tools {
		typ := t.Type
		if typ == "" {
			typ = "function"
		}
		if typ != "function" {
			return nil, newInvalidRequest(fmt.Sprintf("tools[%d].type", i), fmt.Sprintf("unsupported tool type %q", t.Type))
		}
		if strings.TrimSpace(t.Function.Name) == "" {
			return nil, newInvalidRequest(fmt.Sprintf("tools[%d].function.name", i), "tool function name is required")
		}
		fn := map[string]any{
			"name":        t.Function.Name,
			"description": t.Function.Description,
		}
		if t.Function.Parameters != nil {
			fn["parameters"] = t.Function.Parameters
		}
		out = append(out, map[string]any{"type": typ, "function": fn})
	}
	return out, nil
}
