package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yapvoice/yap/backend/internal/model/speech"
)

// ErrTranscriptionFailed marks an ASR failure. The captured audio stays with
// the caller, so the user can retry without re-recording.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Transcriber is the ASR collaborator boundary: submit audio, receive text or
// an error.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speech.TranscriptionRequest) (*speech.TranscriptionResult, error)
}

// HTTPTranscriber talks to an ASR service over plain HTTP multipart upload.
type HTTPTranscriber struct {
	cfg    *speech.Config
	client *http.Client
}

// NewHTTPTranscriber creates a transcriber for the configured ASR service.
func NewHTTPTranscriber(cfg *speech.Config) *HTTPTranscriber {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTranscriber{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the audio and returns the recognized text.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, req *speech.TranscriptionRequest) (*speech.TranscriptionResult, error) {
	if t.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: ASR service not configured", ErrTranscriptionFailed)
	}

	format := req.Format
	if format == "" {
		format = "wav"
	}
	language := req.Language
	if language == "" {
		language = t.cfg.Language
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("audio", "capture."+format)
	if err != nil {
		return nil, fmt.Errorf("%w: build upload: %v", ErrTranscriptionFailed, err)
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrTranscriptionFailed, err)
	}
	_ = form.WriteField("format", format)
	_ = form.WriteField("language", language)
	if t.cfg.Model != "" {
		_ = form.WriteField("model", t.cfg.Model)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("%w: build upload: %v", ErrTranscriptionFailed, err)
	}

	url := strings.TrimSuffix(t.cfg.BaseURL, "/") + "/v1/transcribe"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	if t.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ASR service returned status %d", ErrTranscriptionFailed, resp.StatusCode)
	}

	var payload struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Duration   int64   `json:"duration_ms"`
		RequestID  string  `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: malformed ASR response", ErrTranscriptionFailed)
	}

	requestID := payload.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return &speech.TranscriptionResult{
		ConversationID: req.ConversationID,
		Text:           payload.Text,
		Confidence:     payload.Confidence,
		Duration:       payload.Duration,
		RequestID:      requestID,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// TranscribeBuffer is a convenience wrapper over Transcribe for raw byte
// captures.
func TranscribeBuffer(ctx context.Context, t Transcriber, conversationID string, audio []byte, format, language string) (*speech.TranscriptionResult, error) {
	return t.Transcribe(ctx, &speech.TranscriptionRequest{
		ConversationID: conversationID,
		Audio:          bytes.NewReader(audio),
		Format:         format,
		Language:       language,
	})
}
