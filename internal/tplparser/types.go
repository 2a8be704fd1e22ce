package tplparser

// Message is one chat turn as the renderers see it. Content is a string or
// a list of {"type":"text","text":...} parts.
type Message struct {
	Role       string
	Content    any
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

type ToolCall struct {
	ID       string
	Type     string
	Function ToolCallFunction
}

// ToolCallFunction carries Arguments either as a JSON string (verbatim) or
// as a value to be serialized.
type ToolCallFunction struct {
	Name      string
	Arguments any
}

type RenderOptions struct {
	Template            string
	Arch                string
	BOSToken            string
	AddBOS              bool
	AddGenerationPrompt bool
	// DisableThinking pre-fills an empty <think></think> block after the
	// generation prompt.
	DisableThinking bool
	Messages        []Message
	Tools           []any
}
