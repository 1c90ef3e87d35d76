package metrics

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// Event is one usage event in the shape the YAP metrics service accepts.
type Event struct {
	EventType       string            `json:"event_type"`
	DurationSeconds float64           `json:"duration_seconds"`
	InputChars      int               `json:"input_chars"`
	OutputChars     int               `json:"output_chars"`
	Status          string            `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Event types emitted by the conversation core.
const (
	EventChatSend      = "chat_send"
	EventASRRecord     = "asr_record"
	EventASRTranscribe = "asr_transcribe"
)

// Recorder is a fire-and-forget sink for usage events.
type Recorder interface {
	Record(event Event)
}

// Noop discards every event. Used when metrics are disabled.
type Noop struct{}

func (Noop) Record(Event) {}

// HTTPRecorder posts events to the YAP metrics service asynchronously.
// Delivery failures are logged and dropped; metrics must never block or fail
// a conversation turn.
type HTTPRecorder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRecorder creates a recorder for the metrics service at baseURL.
func NewHTTPRecorder(baseURL string) *HTTPRecorder {
	return &HTTPRecorder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Record posts the event in the background.
func (r *HTTPRecorder) Record(event Event) {
	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[metrics] failed to encode event: %v", err)
			return
		}

		resp, err := r.client.Post(r.baseURL+"/api/metrics/event", "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("[metrics] failed to record event: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			log.Printf("[metrics] metrics service returned status %d", resp.StatusCode)
		}
	}()
}
