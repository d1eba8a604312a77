package chat

import (
	"github.com/ashureev/rolechat/internal/persona"
	"github.com/ashureev/rolechat/internal/prompt"
)

// BoundHistory keeps the last MaxHistoryTurns turns. Older turns are dropped
// silently.
func BoundHistory(turns []prompt.Message) []prompt.Message {
	if len(turns) <= MaxHistoryTurns {
		return turns
	}
	return turns[len(turns)-MaxHistoryTurns:]
}

// BuildPrompt places the persona instruction first and appends the bounded
// history, skipping any turn that is not from the user or the assistant.
// Caller-supplied system turns therefore never reach the model.
func BuildPrompt(p persona.Persona, turns []prompt.Message) []prompt.Message {
	recent := BoundHistory(turns)

	messages := make([]prompt.Message, 0, len(recent)+1)
	messages = append(messages, prompt.Message{Role: prompt.RoleSystem, Content: p.Instruction})
	for _, m := range recent {
		if !prompt.IsConversational(m.Role) {
			continue
		}
		messages = append(messages, m)
	}
	return messages
}
