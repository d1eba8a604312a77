// Package generation talks to the inference backend that hosts the
// fine-tuned model.
package generation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/rolechat/internal/prompt"
)

// Fixed sampling settings of the fine-tuned model.
const (
	DefaultTemperature       = 0.85
	DefaultTopP              = 0.95
	DefaultTopK              = 50
	DefaultMaxNewTokens      = 512
	DefaultRepetitionPenalty = 1.1
)

// Backend kinds accepted by NewBackend.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendGRPC   = "grpc"
)

// ErrNotLoaded is returned when generation is requested before Load succeeded.
var ErrNotLoaded = errors.New("model not loaded")

// Params are the sampling settings forwarded to the backend.
type Params struct {
	Temperature       float64
	TopP              float64
	TopK              int
	MaxNewTokens      int
	RepetitionPenalty float64
	Stop              []string
}

// DefaultParams returns the sampling settings used when a request sets none.
func DefaultParams() Params {
	return Params{
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		TopK:              DefaultTopK,
		MaxNewTokens:      DefaultMaxNewTokens,
		RepetitionPenalty: DefaultRepetitionPenalty,
		Stop:              prompt.StopSequences(),
	}
}

// Generator streams generated text chunks for a prompt.
type Generator interface {
	Generate(ctx context.Context, messages []prompt.Message, params Params) iter.Seq2[string, error]
}

// Backend is a Generator with an explicit startup step.
type Backend interface {
	Generator
	// Name identifies the backend kind in logs and health output.
	Name() string
	// Load prepares the backend and verifies the model is reachable.
	Load(ctx context.Context) error
	// Close releases connections.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend        string
	Addr           string
	Model          string
	APIKey         string
	ConnectTimeout time.Duration
}

// NewBackend builds the backend named in cfg without doing any network I/O.
func NewBackend(cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendOllama:
		return NewOllamaClient(cfg.Addr, cfg.Model, logger), nil
	case BackendOpenAI:
		return NewOpenAIClient(cfg.Addr, cfg.Model, cfg.APIKey, logger), nil
	case BackendGRPC:
		return NewGrpcClient(cfg.Addr, cfg.ConnectTimeout, logger)
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}

// Service owns the process-wide model handle. It is constructed once at
// startup, loaded before the HTTP listener starts, and then shared read-only
// by every request.
type Service struct {
	backend Backend
	logger  *slog.Logger

	loadMu sync.Mutex
	loaded atomic.Bool
}

// NewService wraps a backend. Call Load before serving traffic.
func NewService(backend Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, logger: logger}
}

// Load prepares the backend. Calls after the first successful one are no-ops.
func (s *Service) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.loaded.Load() {
		return nil
	}

	start := time.Now()
	s.logger.Info("Loading model", "backend", s.backend.Name())
	if err := s.backend.Load(ctx); err != nil {
		return fmt.Errorf("load %s backend: %w", s.backend.Name(), err)
	}
	s.loaded.Store(true)
	s.logger.Info("Model loaded", "backend", s.backend.Name(), "duration", time.Since(start))
	return nil
}

// Ready reports whether Load has succeeded.
func (s *Service) Ready() bool {
	return s.loaded.Load()
}

// BackendName returns the configured backend kind.
func (s *Service) BackendName() string {
	return s.backend.Name()
}

// Generate streams chunks from the backend.
func (s *Service) Generate(ctx context.Context, messages []prompt.Message, params Params) iter.Seq2[string, error] {
	if !s.Ready() {
		return func(yield func(string, error) bool) {
			yield("", ErrNotLoaded)
		}
	}
	return s.backend.Generate(ctx, messages, params)
}

// Close releases backend resources.
func (s *Service) Close() {
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("failed to close generation backend", "error", err)
	}
}

// Ensure Service can stand in for a Generator.
var _ Generator = (*Service)(nil)
