package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/sashabaranov/go-openai"

	"github.com/samcharles93/spindle/internal/inference"
)

func (s *Server) handleListModels(c *echo.Context) error {
	info, err := s.service.Info()
	if err != nil {
		return writeServerError(c, err)
	}
	id := s.cfg.ModelName
	if id == "" {
		id = info.Name
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data": []openai.Model{{
			ID:        id,
			Object:    "model",
			CreatedAt: info.LoadedAt.Unix(),
			OwnedBy:   "local",
			Root:      info.Path,
		}},
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	info, err := s.service.Info()
	if errors.Is(err, inference.ErrModelNotInitialized) {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "loading"})
	}
	if err != nil {
		return writeServerError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"model":  info.Name,
		"arch":   info.Arch,
	})
}
