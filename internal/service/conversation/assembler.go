package conversation

import (
	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
)

// AssembleContext derives the bounded turn list submitted alongside a new
// draft: the system prompt (when non-empty), then at most maxContext prior
// completed user/assistant turns in chronological order, then the draft as the
// final user turn. Error entries are never replayed; a failed exchange is not
// part of the model's prior turns. maxContext of zero sends only the system
// prompt and the draft, regardless of history length.
func AssembleContext(messages []convo.Message, maxContext int, systemPrompt, draft string) []convo.ChatTurn {
	history := make([]convo.ChatTurn, 0, maxContext)
	if maxContext > 0 {
		for i := len(messages) - 1; i >= 0 && len(history) < maxContext; i-- {
			m := messages[i]
			if m.Role != convo.RoleUser && m.Role != convo.RoleAssistant {
				continue
			}
			if m.Status != convo.StatusComplete {
				continue
			}
			history = append(history, convo.ChatTurn{Role: string(m.Role), Content: m.Content})
		}
		// Collected newest-first; restore chronological order.
		for left, right := 0, len(history)-1; left < right; left, right = left+1, right-1 {
			history[left], history[right] = history[right], history[left]
		}
	}

	turns := make([]convo.ChatTurn, 0, len(history)+2)
	if systemPrompt != "" {
		turns = append(turns, convo.ChatTurn{Role: "system", Content: systemPrompt})
	}
	turns = append(turns, history...)
	turns = append(turns, convo.ChatTurn{Role: string(convo.RoleUser), Content: draft})
	return turns
}
