package conversation

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleError marks a synthetic turn recording a failed exchange. It stays
	// in the log for user visibility but is never replayed into context.
	RoleError Role = "error"
)

// Status tracks a message through the submission lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Message is one persisted conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	AudioRef  string    `json:"audioRef,omitempty"`
	Status    Status    `json:"status"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// Usage carries provider token counts, attached to assistant messages for
// display only.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatTurn is a role/content pair in the shape submitted to the LLM provider.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
