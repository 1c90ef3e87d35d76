package speech

import "time"

// TranscriptionResult is the normalized ASR success.
type TranscriptionResult struct {
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	Confidence     float64   `json:"confidence"`
	Duration       int64     `json:"duration"` // milliseconds
	RequestID      string    `json:"requestId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
