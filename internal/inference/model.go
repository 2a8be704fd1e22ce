package inference

import (
	"context"
	"sync"
	"time"

	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/tokenizer"
)

// Model bundles a loaded engine with the tokenizer and template settings
// needed to serve it.
type Model struct {
	Name string
	Path string
	Arch string

	Engine    Engine
	Tokenizer tokenizer.Tokenizer

	ChatTemplate string
	BOSToken     string
	AddBOS       bool
	StopIDs      []int
	Defaults     GenDefaults
	LoadedAt     time.Time
}

// Controller returns a generation controller over the model.
func (m *Model) Controller(log logger.Logger) *Controller {
	return &Controller{Engine: m.Engine, Tokenizer: m.Tokenizer, Logger: log}
}

// ModelInfo is the read-only view of the served model.
type ModelInfo struct {
	Name     string
	Path     string
	Arch     string
	LoadedAt time.Time
}

// Service owns the single served model. Generations take the write lock
// for their whole duration since the engine cache is shared state, so
// concurrent requests queue behind each other.
type Service struct {
	mu    sync.RWMutex
	model *Model
}

// NewService returns a service serving m. A nil m yields a service that
// answers every call with ErrModelNotInitialized until Set is called.
func NewService(m *Model) *Service {
	return &Service{model: m}
}

// Set replaces the served model.
func (s *Service) Set(m *Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
}

// WithModel runs fn with exclusive access to the model.
func (s *Service) WithModel(ctx context.Context, fn func(*Model) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.model == nil {
		return ErrModelNotInitialized
	}
	return fn(s.model)
}

// Info describes the served model.
func (s *Service) Info() (ModelInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return ModelInfo{}, ErrModelNotInitialized
	}
	return ModelInfo{
		Name:     s.model.Name,
		Path:     s.model.Path,
		Arch:     s.model.Arch,
		LoadedAt: s.model.LoadedAt,
	}, nil
}
