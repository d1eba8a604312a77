// Package chat implements the role-conditioned streaming chat endpoint.
package chat

import (
	"errors"

	"github.com/ashureev/rolechat/internal/generation"
	"github.com/ashureev/rolechat/internal/prompt"
)

// MaxHistoryTurns is how many trailing caller turns reach the prompt
// (ten user/assistant exchanges).
const MaxHistoryTurns = 20

// Sentinel written after the last chunk of every completed stream.
const doneSentinel = "[DONE]"

var (
	// ErrInvalidRole is returned for role ids outside the persona catalog.
	ErrInvalidRole = errors.New("invalid role id")
	// ErrCapacity is returned when no generation slot frees up in time.
	ErrCapacity = errors.New("generation capacity exhausted")
)

// Request is the body of POST /chat/completions.
// Temperature and TopP are pointers so an explicit zero is kept as zero.
type Request struct {
	Role        int              `json:"role"`
	Messages    []prompt.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

// Params returns the sampling settings for the request. Values are passed
// through without range checks.
func (r *Request) Params() generation.Params {
	p := generation.DefaultParams()
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		p.TopP = *r.TopP
	}
	return p
}

// Chunk is the payload of one streamed SSE data line.
type Chunk struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
