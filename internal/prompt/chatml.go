// Package prompt renders chat messages into the ChatML template used by the
// fine-tuned model and cleans template markers out of generated text.
package prompt

import "strings"

// Speaker roles accepted in a rendered prompt.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatML control markers.
const (
	MarkerStart     = "<|im_start|>"
	MarkerEnd       = "<|im_end|>"
	MarkerEndOfText = "<|endoftext|>"
)

// Message is one entry of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsConversational reports whether role may appear in caller-supplied history.
func IsConversational(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// Render formats messages as ChatML and appends the assistant generation
// header, so the output can be sent to a raw-prompt backend as-is.
func Render(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(MarkerStart)
		b.WriteString(m.Role)
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString(MarkerEnd)
		b.WriteByte('\n')
	}
	b.WriteString(MarkerStart)
	b.WriteString(RoleAssistant)
	b.WriteByte('\n')
	return b.String()
}

// StopSequences returns the markers that end an assistant turn.
func StopSequences() []string {
	return []string{MarkerEnd, MarkerEndOfText}
}

var markerReplacer = strings.NewReplacer(
	MarkerEnd, "",
	MarkerStart, "",
	MarkerEndOfText, "",
)

// StripMarkers removes template control markers from a generated chunk.
// Each marker is assumed to arrive whole within a single chunk.
func StripMarkers(chunk string) string {
	return markerReplacer.Replace(chunk)
}
