package conversation

import "time"

// Settings is a read-only snapshot of the conversation configuration. Callers
// pass it per operation so an exchange already in flight is unaffected by a
// settings change made elsewhere.
type Settings struct {
	EndpointURL        string        `json:"endpointUrl"`
	APIKey             string        `json:"-"`
	Model              string        `json:"model"`
	Temperature        float32       `json:"temperature"`
	MaxTokens          int           `json:"maxTokens"`
	SystemPrompt       string        `json:"systemPrompt"`
	MaxContextMessages int           `json:"maxContextMessages"`
	MaxDraftLength     int           `json:"maxDraftLength"`
	Timeout            time.Duration `json:"timeout"`
	AutoSend           bool          `json:"autoSend"`
}
