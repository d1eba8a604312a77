// Package api provides shared HTTP helpers and the operational endpoints of
// the rolechat server.
package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
)

// JSON writes a JSON response with the given status code. Non-ASCII text is
// written as UTF-8 and HTML characters are not escaped.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
