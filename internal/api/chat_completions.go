package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/telemetry"
	"github.com/samcharles93/spindle/internal/toolcall"
)

// errIncompleteToolCall ends a stream whose last tool call never closed.
var errIncompleteToolCall = errors.New("incomplete tool call: generation ended before " + toolcall.CloseMarker)

// chatInput is a validated request ready to run.
type chatInput struct {
	prompt  inference.PromptRenderInput
	options inference.RequestOptions
}

func (s *Server) handleChatCompletions(c *echo.Context) error {
	req, err := decodeJSON[ChatCompletionRequest](c.Request().Body, MaxRequestBodyBytes)
	if errors.Is(err, errBodyTooLarge) {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error",
			fmt.Sprintf("request body exceeds %d bytes", MaxRequestBodyBytes), "", "")
	}
	if err != nil {
		return writeBadRequest(c, err)
	}

	in, err := prepareChat(&req)
	if err != nil {
		return writeBadRequest(c, err)
	}

	completionID := "chatcmpl-" + uuid.NewString()
	created := s.clock().Unix()
	stream := req.streaming()

	ctx, span := telemetry.Start(c.Request().Context(), tracerName, "chat.completion",
		attribute.String("completion.id", completionID),
		attribute.Bool("stream", stream),
		attribute.Int("messages", len(req.Messages)),
		attribute.Int("tools", len(req.Tools)),
	)
	log := s.log.With("id", completionID, "stream", stream)
	ctx = logger.WithContext(ctx, log)

	if stream {
		err = s.streamChat(ctx, c, in, completionID, created)
	} else {
		err = s.bufferedChat(ctx, c, in, completionID, created)
	}
	telemetry.End(span, err)
	return nil
}

func prepareChat(req *ChatCompletionRequest) (chatInput, error) {
	if len(req.Messages) == 0 {
		return chatInput{}, newInvalidRequest("messages", "messages is required and must not be empty")
	}
	msgs, err := chatMessagesToTemplateMessages(req.Messages)
	if err != nil {
		return chatInput{}, err
	}
	tools, err := chatToolsToTemplateTools(req.Tools)
	if err != nil {
		return chatInput{}, err
	}
	if req.MaxTokens != nil && *req.MaxTokens < 0 {
		return chatInput{}, newInvalidRequest("max_tokens", "max_tokens must not be negative")
	}

	maxTokens := req.MaxTokens
	if req.MaxCompletionTokens != nil {
		maxTokens = req.MaxCompletionTokens
	}
	return chatInput{
		prompt: inference.PromptRenderInput{
			Messages:        msgs,
			Tools:           tools,
			DisableThinking: !req.enableThinking(),
		},
		options: inference.RequestOptions{
			MaxTokens:     maxTokens,
			Seed:          req.Seed,
			Temperature:   req.Temperature,
			TopK:          req.TopK,
			TopP:          req.TopP,
			MinP:          req.MinP,
			RepeatPenalty: req.RepeatPenalty,
			RepeatLastN:   req.RepeatLastN,
		},
	}, nil
}

// startGeneration renders the prompt and prepares the token sequence. It
// must run inside Service.WithModel.
func (s *Server) startGeneration(ctx context.Context, m *inference.Model, in chatInput) (*inference.Generation, error) {
	prompt, err := m.RenderPrompt(in.prompt)
	if err != nil {
		return nil, err
	}
	cfg := inference.ResolveRequest(m.Defaults, m.StopIDs, s.cfg.Defaults, in.options)
	return m.Controller(logger.FromContext(ctx)).Generate(ctx, prompt, cfg)
}

func (s *Server) bufferedChat(ctx context.Context, c *echo.Context, in chatInput, id string, created int64) error {
	log := logger.FromContext(ctx)
	var (
		text  strings.Builder
		stats inference.Stats
		model string
	)
	err := s.service.WithModel(ctx, func(m *inference.Model) error {
		model = s.modelName(m)
		gen, err := s.startGeneration(ctx, m, in)
		if err != nil {
			return err
		}
		for frag, err := range gen.Text() {
			if err != nil {
				return err
			}
			text.WriteString(frag)
		}
		stats = gen.Stats()
		return nil
	})
	if err != nil {
		log.Error("chat completion failed", "error", err)
		_ = writeServerError(c, err)
		return err
	}

	resp, split := BuildCompletion(id, created, model, text.String(), stats)
	for i, perr := range split.Errs {
		if perr != nil {
			log.Warn("tool call payload not parseable, returning raw arguments", "index", i, "error", perr)
		}
	}
	if split.Truncated() {
		log.Warn("generation ended inside a tool call", "calls", len(split.Calls))
	}
	log.Debug("chat completion done",
		"prompt_tokens", stats.PromptTokens,
		"completion_tokens", stats.GeneratedTokens,
		"tool_calls", len(split.Calls),
	)
	return c.JSON(http.StatusOK, resp)
}

// writeFailure marks errors from the client connection so they are not
// reported back over the same connection.
type writeFailure struct{ err error }

func (w writeFailure) Error() string { return "write stream: " + w.err.Error() }
func (w writeFailure) Unwrap() error { return w.err }

func (s *Server) streamChat(ctx context.Context, c *echo.Context, in chatInput, id string, created int64) error {
	log := logger.FromContext(ctx)
	sse, err := newSSEWriter(c)
	if err != nil {
		_ = writeServerError(c, err)
		return err
	}

	err = s.service.WithModel(ctx, func(m *inference.Model) error {
		gen, err := s.startGeneration(ctx, m, in)
		if err != nil {
			return err
		}
		em := NewChunkEmitter(id, created, s.modelName(m))
		if err := sse.Message(em.Role()); err != nil {
			return writeFailure{err}
		}

		ex := toolcall.New(s.newCallID)
		for ev, err := range ex.Events(gen.Text()) {
			if err != nil {
				return err
			}
			if ev.Err != nil {
				log.Warn("tool call payload not parseable, sending raw arguments", "call_id", ev.Call.ID, "error", ev.Err)
			}
			if err := sse.Message(em.Event(ev)); err != nil {
				return writeFailure{err}
			}
		}
		if ex.Truncated() {
			return errIncompleteToolCall
		}
		if err := sse.Message(em.Finish()); err != nil {
			return writeFailure{err}
		}
		if err := sse.Done(); err != nil {
			return writeFailure{err}
		}
		st := gen.Stats()
		log.Debug("chat completion stream done",
			"prompt_tokens", st.PromptTokens,
			"completion_tokens", st.GeneratedTokens,
			"tool_calls", ex.Calls(),
		)
		return nil
	})

	var wf writeFailure
	switch {
	case err == nil:
	case errors.As(err, &wf) || errors.Is(err, context.Canceled):
		log.Info("client went away, generation stopped", "error", err)
	default:
		log.Error("chat completion stream failed", "error", err)
		_ = sse.Error(err)
	}
	return err
}
