// Package domain contains core domain types for the rolechat service.
package domain

import (
	"time"
)

// CompletionStatus is the terminal state of a generation session.
type CompletionStatus string

const (
	// CompletionDone means the stream ended with the sentinel.
	CompletionDone CompletionStatus = "done"
	// CompletionFailed means the backend failed after the stream opened.
	CompletionFailed CompletionStatus = "failed"
	// CompletionCancelled means the client went away mid-stream.
	CompletionCancelled CompletionStatus = "cancelled"
)

// Completion is the persisted metadata of one generation session.
// Message content is never stored.
type Completion struct {
	ID            string           `json:"id"`
	RequestID     string           `json:"request_id,omitempty"`
	RoleID        int              `json:"role_id"`
	RoleLabel     string           `json:"role_label"`
	TurnsReceived int              `json:"turns_received"`
	TurnsUsed     int              `json:"turns_used"`
	Temperature   float64          `json:"temperature"`
	TopP          float64          `json:"top_p"`
	Chunks        int              `json:"chunks"`
	OutputChars   int              `json:"output_chars"`
	Status        CompletionStatus `json:"status"`
	Error         string           `json:"error,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

// Duration returns how long the session streamed.
func (c *Completion) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// CompletionStats aggregates recorded completions by status.
type CompletionStats struct {
	Total     int64 `json:"total"`
	Done      int64 `json:"done"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}
