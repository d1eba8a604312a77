package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/chat/completions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORSWildcard(t *testing.T) {
	w := corsRequest([]string{"*"}, http.MethodPost, "https://chat.example")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "https://chat.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSExplicitOrigin(t *testing.T) {
	w := corsRequest([]string{"https://chat.example"}, http.MethodPost, "https://chat.example")
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = corsRequest([]string{"https://chat.example"}, http.MethodPost, "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	w := corsRequest([]string{"*"}, http.MethodOptions, "https://chat.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSNoOrigin(t *testing.T) {
	w := corsRequest([]string{"*"}, http.MethodGet, "")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
