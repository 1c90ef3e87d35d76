package speech

import "io"

// TranscriptionRequest submits recorded audio for transcription.
type TranscriptionRequest struct {
	ConversationID string    `json:"conversationId"`
	Audio          io.Reader `json:"-"`
	Format         string    `json:"format"`   // wav, webm, mp3, ...
	Language       string    `json:"language"` // en-US, zh-CN, ...
}
