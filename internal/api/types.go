package api

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
// Fields past Seed are server extensions.
type ChatCompletionRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	Tools               []ChatTool    `json:"tools,omitempty"`
	ToolChoice          any           `json:"tool_choice,omitempty"`
	Stream              *bool         `json:"stream,omitempty"`
	MaxTokens           *int          `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
	TopP                *float64      `json:"top_p,omitempty"`
	Seed                *int64        `json:"seed,omitempty"`

	TopK               *int           `json:"top_k,omitempty"`
	MinP               *float64       `json:"min_p,omitempty"`
	RepeatPenalty      *float64       `json:"repeat_penalty,omitempty"`
	RepeatLastN        *int           `json:"repeat_last_n,omitempty"`
	ChatTemplateKwargs map[string]any `json:"chat_template_kwargs,omitempty"`
}

type ChatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type ChatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ChatFunctionCall `json:"function"`
}

type ChatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ChatTool struct {
	Type     string       `json:"type"`
	Function ChatFunction `json:"function"`
}

type ChatFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// streaming reports whether the response is an event stream. Streaming is
// the default when the flag is absent.
func (r *ChatCompletionRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

func (r *ChatCompletionRequest) enableThinking() bool {
	v, ok := r.ChatTemplateKwargs["enable_thinking"].(bool)
	return !ok || v
}
