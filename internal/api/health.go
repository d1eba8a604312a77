package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/rolechat/internal/domain"
	"github.com/ashureev/rolechat/internal/store"
	"github.com/go-chi/chi/v5"
)

// ModelStatus reports the state of the loaded model.
type ModelStatus interface {
	Ready() bool
	BackendName() string
}

// HealthHandler serves the operational endpoints. repo may be nil when
// completion auditing is disabled.
type HealthHandler struct {
	model ModelStatus
	repo  store.Repository
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(model ModelStatus, repo store.Repository) *HealthHandler {
	return &HealthHandler{model: model, repo: repo}
}

// RegisterRoutes registers the health route.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// RegisterAuditRoutes registers the audit listing. It is meant for operators
// and carries no authentication, so mount it behind the rate limiter and keep
// it off public listeners.
func (h *HealthHandler) RegisterAuditRoutes(r chi.Router) {
	r.Get("/api/completions", h.ListCompletions)
}

// Health reports model readiness and database connectivity.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]interface{}{
		"status":      "ok",
		"backend":     h.model.BackendName(),
		"model_ready": h.model.Ready(),
		"database":    "disabled",
	}
	if !h.model.Ready() {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Warn("Database health check failed", "error", err)
			body["database"] = "unreachable"
			body["status"] = "degraded"
		} else {
			body["database"] = "ok"
			stats, err := h.repo.CompletionStats(ctx)
			if err != nil {
				slog.Warn("Failed to load completion stats", "error", err)
			} else {
				body["completions"] = stats
			}
		}
	}

	JSON(w, status, body)
}

// ListCompletions returns recent generation sessions, newest first.
func (h *HealthHandler) ListCompletions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "completion auditing disabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	completions, err := h.repo.ListRecentCompletions(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list completions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list completions")
		return
	}
	if completions == nil {
		completions = []*domain.Completion{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"completions": completions})
}
