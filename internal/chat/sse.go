package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames server-sent events and flushes each one to the client.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseWriter{w: w, flusher: flusher}, true
}

// begin commits the stream headers. It is a no-op after the first call.
func (s *sseWriter) begin() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// data writes v as a JSON data line. HTML characters are left unescaped so
// template text and non-ASCII content reach the client verbatim.
func (s *sseWriter) data(v any) error {
	payload, err := marshal(v)
	if err != nil {
		return err
	}
	return s.write("", payload)
}

// event writes a named event carrying v as JSON.
func (s *sseWriter) event(name string, v any) error {
	payload, err := marshal(v)
	if err != nil {
		return err
	}
	return s.write(name, payload)
}

func (s *sseWriter) done() error {
	return s.write("", []byte(doneSentinel))
}

func (s *sseWriter) write(name string, payload []byte) error {
	s.begin()
	var buf bytes.Buffer
	if name != "" {
		fmt.Fprintf(&buf, "event: %s\n", name)
	}
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
