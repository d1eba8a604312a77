package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/rolechat/internal/api"
	"github.com/ashureev/rolechat/internal/domain"
	"github.com/ashureev/rolechat/internal/generation"
	"github.com/ashureev/rolechat/internal/persona"
	"github.com/ashureev/rolechat/internal/prompt"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const defaultMaxRequestBodySize = 1 << 20

// Recorder persists the outcome of a generation session.
type Recorder interface {
	RecordCompletion(ctx context.Context, c *domain.Completion) error
}

// Handler serves the chat endpoints.
type Handler struct {
	catalog     *persona.Catalog
	generator   generation.Generator
	gate        *Gate
	recorder    Recorder
	maxBodySize int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithRecorder records every admitted request once its stream ends.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithMaxBodySize limits the size of request bodies.
func WithMaxBodySize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodySize = n
		}
	}
}

// NewHandler creates a chat handler.
func NewHandler(catalog *persona.Catalog, generator generation.Generator, gate *Gate, opts ...Option) *Handler {
	h := &Handler{
		catalog:     catalog,
		generator:   generator,
		gate:        gate,
		maxBodySize: defaultMaxRequestBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/completions", h.HandleCompletions)
		r.Get("/roles", h.HandleRoles)
	})
}

type roleView struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Name  string `json:"name"`
}

// HandleRoles lists the personas a caller may select.
func (h *Handler) HandleRoles(w http.ResponseWriter, _ *http.Request) {
	personas := h.catalog.List()
	roles := make([]roleView, 0, len(personas))
	for _, p := range personas {
		roles = append(roles, roleView{ID: int(p.ID), Label: p.Label, Name: p.Name})
	}
	api.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// HandleCompletions streams a persona-conditioned reply as server-sent events.
func (h *Handler) HandleCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, ok := h.catalog.Lookup(req.Role)
	if !ok {
		api.Error(w, http.StatusBadRequest, ErrInvalidRole.Error())
		return
	}

	stream, ok := newSSEWriter(w)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	release, err := h.gate.Acquire(r.Context())
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			slog.Warn("Generation capacity exhausted", "request_id", reqID, "role", p.Label)
			api.Error(w, http.StatusServiceUnavailable, ErrCapacity.Error())
		}
		return
	}
	defer release()

	sess := newSession(reqID, p, &req)
	slog.Info("Chat completion request",
		"request_id", reqID,
		"completion_id", sess.id,
		"role", p.Label,
		"turns_received", sess.turnsReceived,
		"turns_used", sess.turnsUsed(),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	status, errMsg := h.stream(ctx, stream, sess)
	if status == "" {
		return
	}

	c := sess.completion(status, errMsg)
	slog.Info("Chat completion finished",
		"request_id", reqID,
		"completion_id", c.ID,
		"status", c.Status,
		"chunks", c.Chunks,
		"output_chars", c.OutputChars,
		"duration_ms", c.Duration().Milliseconds(),
	)
	h.record(r.Context(), c)
}

// stream relays generated chunks to the client and ends with the sentinel.
// An empty status means nothing was streamed and the response is complete.
func (h *Handler) stream(ctx context.Context, stream *sseWriter, sess *session) (domain.CompletionStatus, string) {
	for chunk, err := range h.generator.Generate(ctx, sess.messages, sess.params) {
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Client disconnected during generation", "completion_id", sess.id)
				return domain.CompletionCancelled, ctx.Err().Error()
			}
			if errors.Is(err, generation.ErrNotLoaded) && !stream.started {
				api.Error(stream.w, http.StatusServiceUnavailable, "model not loaded")
				return "", ""
			}
			slog.Error("Generation failed", "completion_id", sess.id, "error", err)
			if writeErr := stream.event("error", map[string]string{"error": "generation failed"}); writeErr != nil {
				slog.Warn("failed to write SSE error event", "error", writeErr)
				return domain.CompletionFailed, err.Error()
			}
			if writeErr := stream.done(); writeErr != nil {
				slog.Warn("failed to write SSE sentinel", "error", writeErr)
			}
			return domain.CompletionFailed, err.Error()
		}

		text := prompt.StripMarkers(chunk)
		if text == "" {
			continue
		}
		if writeErr := stream.data(Chunk{Role: prompt.RoleAssistant, Content: text}); writeErr != nil {
			slog.Warn("failed to write SSE chunk", "completion_id", sess.id, "error", writeErr)
			return domain.CompletionCancelled, writeErr.Error()
		}
		sess.add(text)
	}

	if ctx.Err() != nil {
		return domain.CompletionCancelled, ctx.Err().Error()
	}
	if err := stream.done(); err != nil {
		slog.Warn("failed to write SSE sentinel", "completion_id", sess.id, "error", err)
		return domain.CompletionCancelled, err.Error()
	}
	return domain.CompletionDone, ""
}

func (h *Handler) record(ctx context.Context, c *domain.Completion) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.RecordCompletion(context.WithoutCancel(ctx), c); err != nil {
		slog.Warn("failed to record completion", "completion_id", c.ID, "error", err)
	}
}
