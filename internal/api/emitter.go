package api

import (
	"github.com/sashabaranov/go-openai"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/toolcall"
)

const (
	objectChunk      = "chat.completion.chunk"
	objectCompletion = "chat.completion"
)

// ChunkEmitter builds the chunk objects of one streamed completion.
type ChunkEmitter struct {
	id      string
	created int64
	model   string
	calls   int
}

func NewChunkEmitter(id string, created int64, model string) *ChunkEmitter {
	return &ChunkEmitter{id: id, created: created, model: model}
}

func (e *ChunkEmitter) chunk(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      e.id,
		Object:  objectChunk,
		Created: e.created,
		Model:   e.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
}

// Role is the opening chunk announcing the assistant role.
func (e *ChunkEmitter) Role() openai.ChatCompletionStreamResponse {
	return e.chunk(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}, "")
}

// Event converts one extractor event. Calls carry their name only when the
// payload parsed; otherwise the raw payload is sent as arguments alone.
func (e *ChunkEmitter) Event(ev toolcall.Event) openai.ChatCompletionStreamResponse {
	if ev.Kind == toolcall.EventContent {
		return e.chunk(openai.ChatCompletionStreamChoiceDelta{Content: ev.Text}, "")
	}
	e.calls++
	return e.chunk(openai.ChatCompletionStreamChoiceDelta{
		ToolCalls: []openai.ToolCall{wireToolCall(ev.Call, true)},
	}, "")
}

// Finish is the last chunk before the [DONE] sentinel.
func (e *ChunkEmitter) Finish() openai.ChatCompletionStreamResponse {
	return e.chunk(openai.ChatCompletionStreamChoiceDelta{}, finishReason(e.calls))
}

func finishReason(calls int) openai.FinishReason {
	if calls > 0 {
		return openai.FinishReasonToolCalls
	}
	return openai.FinishReasonStop
}

func wireToolCall(c toolcall.Call, withIndex bool) openai.ToolCall {
	tc := openai.ToolCall{
		ID:   c.ID,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      c.Name,
			Arguments: c.Args.Text(),
		},
	}
	if withIndex {
		idx := c.Index
		tc.Index = &idx
	}
	return tc
}

// BuildCompletion assembles the buffered response for generated text.
func BuildCompletion(id string, created int64, model, text string, stats inference.Stats) (openai.ChatCompletionResponse, toolcall.Result) {
	split := toolcall.Split(text)
	msg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: split.Content(),
	}
	for _, c := range split.Calls {
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall(c, false))
	}
	return openai.ChatCompletionResponse{
		ID:      id,
		Object:  objectCompletion,
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finishReason(len(split.Calls)),
		}},
		Usage: openai.Usage{
			PromptTokens:     stats.PromptTokens,
			CompletionTokens: stats.GeneratedTokens,
			TotalTokens:      stats.PromptTokens + stats.GeneratedTokens,
		},
	}, split
}
