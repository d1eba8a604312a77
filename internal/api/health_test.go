//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/rolechat/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct{ ready bool }

func (m fakeModel) Ready() bool         { return m.ready }
func (m fakeModel) BackendName() string { return "ollama" }

type fakeRepo struct {
	pingErr     error
	completions []*domain.Completion
	lastLimit   int
}

func (f *fakeRepo) RecordCompletion(context.Context, *domain.Completion) error { return nil }

func (f *fakeRepo) ListRecentCompletions(_ context.Context, limit int) ([]*domain.Completion, error) {
	f.lastLimit = limit
	return f.completions, nil
}

func (f *fakeRepo) CompletionStats(context.Context) (*domain.CompletionStats, error) {
	return &domain.CompletionStats{Total: 3, Done: 2, Failed: 1}, nil
}

func (f *fakeRepo) DeleteCompletionsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error               { return nil }

func serve(h *HealthHandler, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	h.RegisterAuditRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthReady(t *testing.T) {
	w := serve(NewHealthHandler(fakeModel{ready: true}, &fakeRepo{}), "/api/health")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ollama", body["backend"])
	assert.Equal(t, true, body["model_ready"])
	assert.Equal(t, "ok", body["database"])
	stats := body["completions"].(map[string]any)
	assert.Equal(t, float64(3), stats["total"])
}

func TestHealthModelNotReady(t *testing.T) {
	w := serve(NewHealthHandler(fakeModel{}, nil), "/api/health")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, "disabled", body["database"])
}

func TestHealthDatabaseDown(t *testing.T) {
	w := serve(NewHealthHandler(fakeModel{ready: true}, &fakeRepo{pingErr: errors.New("closed")}), "/api/health")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["database"])
}

func TestListCompletions(t *testing.T) {
	repo := &fakeRepo{completions: []*domain.Completion{{ID: "c1", Status: domain.CompletionDone}}}
	h := NewHealthHandler(fakeModel{ready: true}, repo)

	w := serve(h, "/api/completions?limit=5")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, repo.lastLimit)
	assert.Contains(t, w.Body.String(), `"id":"c1"`)

	w = serve(h, "/api/completions?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(NewHealthHandler(fakeModel{ready: true}, nil), "/api/completions")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCompletionsEmpty(t *testing.T) {
	w := serve(NewHealthHandler(fakeModel{ready: true}, &fakeRepo{}), "/api/completions")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"completions":[]}`, w.Body.String())
}

func TestAuditRoutesSeparate(t *testing.T) {
	h := NewHealthHandler(fakeModel{ready: true}, &fakeRepo{})

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/completions", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "audit listing is opt-in")

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			})
		})
		h.RegisterAuditRoutes(r)
	})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/completions", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "group middleware guards the audit listing")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
