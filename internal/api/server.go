package api

import (
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/toolcall"
)

const tracerName = "github.com/samcharles93/spindle/internal/api"

// MaxRequestBodyBytes bounds a chat completion request body.
const MaxRequestBodyBytes = 5 << 20

type Config struct {
	// ModelName is reported in responses; empty uses the loaded model's
	// name.
	ModelName string
	// Defaults sit between the model's generation_config.json and the
	// per-request fields.
	Defaults inference.RequestOptions
	Logger   logger.Logger
}

type Server struct {
	service   *inference.Service
	cfg       Config
	log       logger.Logger
	clock     func() time.Time
	newCallID func() string
}

func NewServer(service *inference.Service, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		service:   service,
		cfg:       cfg,
		log:       log,
		clock:     time.Now,
		newCallID: toolcall.NewCallID,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/chat/completions", s.handleChatCompletions)
	e.POST("/v1/chat/completions", s.handleChatCompletions)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/health", s.handleHealth)
}

func (s *Server) modelName(m *inference.Model) string {
	if s.cfg.ModelName != "" {
		return s.cfg.ModelName
	}
	return m.Name
}
