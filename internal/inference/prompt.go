package inference

import (
	"errors"
	"fmt"

	"github.com/samcharles93/spindle/internal/tplparser"
)

type PromptRenderInput struct {
	Messages []tplparser.Message
	Tools    []any
	// NoTemplate sends the last message's text as the raw prompt.
	NoTemplate      bool
	DisableThinking bool
}

// RenderPrompt renders the conversation with the model's chat template.
// Failures wrap ErrTemplateRender.
func (m *Model) RenderPrompt(input PromptRenderInput) (string, error) {
	if len(input.Messages) == 0 {
		return "", templateError(errors.New("no messages"))
	}
	if input.NoTemplate {
		text, err := tplparser.MessageText(input.Messages[len(input.Messages)-1])
		if err != nil {
			return "", templateError(err)
		}
		return text, nil
	}

	rendered, ok, err := tplparser.Render(tplparser.RenderOptions{
		Template:            m.ChatTemplate,
		Arch:                m.Arch,
		BOSToken:            m.BOSToken,
		AddBOS:              m.AddBOS,
		AddGenerationPrompt: true,
		DisableThinking:     input.DisableThinking,
		Messages:            input.Messages,
		Tools:               input.Tools,
	})
	if err != nil {
		return "", templateError(err)
	}
	if !ok {
		return "", templateError(fmt.Errorf("no chat template renderer for arch %q", m.Arch))
	}
	return rendered, nil
}
