package chat

import (
	"time"
	"unicode/utf8"

	"github.com/ashureev/rolechat/internal/domain"
	"github.com/ashureev/rolechat/internal/generation"
	"github.com/ashureev/rolechat/internal/persona"
	"github.com/ashureev/rolechat/internal/prompt"
	"github.com/google/uuid"
)

// session tracks one request from admission until its stream ends.
type session struct {
	id            string
	requestID     string
	persona       persona.Persona
	turnsReceived int
	messages      []prompt.Message
	params        generation.Params

	chunks      int
	outputChars int
	startedAt   time.Time
}

func newSession(requestID string, p persona.Persona, req *Request) *session {
	return &session{
		id:            uuid.NewString(),
		requestID:     requestID,
		persona:       p,
		turnsReceived: len(req.Messages),
		messages:      BuildPrompt(p, req.Messages),
		params:        req.Params(),
		startedAt:     time.Now(),
	}
}

// turnsUsed excludes the persona instruction.
func (s *session) turnsUsed() int {
	return len(s.messages) - 1
}

func (s *session) add(chunk string) {
	s.chunks++
	s.outputChars += utf8.RuneCountInString(chunk)
}

func (s *session) completion(status domain.CompletionStatus, errMsg string) *domain.Completion {
	return &domain.Completion{
		ID:            s.id,
		RequestID:     s.requestID,
		RoleID:        int(s.persona.ID),
		RoleLabel:     s.persona.Label,
		TurnsReceived: s.turnsReceived,
		TurnsUsed:     s.turnsUsed(),
		Temperature:   s.params.Temperature,
		TopP:          s.params.TopP,
		Chunks:        s.chunks,
		OutputChars:   s.outputChars,
		Status:        status,
		Error:         errMsg,
		StartedAt:     s.startedAt,
		FinishedAt:    time.Now(),
	}
}
