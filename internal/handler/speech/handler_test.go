package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/yapvoice/yap/backend/internal/config"
	speechmodel "github.com/yapvoice/yap/backend/internal/model/speech"
	speechsvc "github.com/yapvoice/yap/backend/internal/service/speech"
)

type fakeTranscriber struct {
	text string
	err  error

	gotFormat   string
	gotLanguage string
	gotAudio    []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.TranscriptionResult, error) {
	f.gotFormat = req.Format
	f.gotLanguage = req.Language
	if req.Audio != nil {
		f.gotAudio, _ = io.ReadAll(req.Audio)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TranscriptionResult{Text: f.text, Confidence: 0.9}, nil
}

func newSpeechRouter(tr speechsvc.Transcriber) *chi.Mux {
	r := chi.NewRouter()
	New(tr).RegisterRoutes(r, nil, config.ConversationConfig{}, nil)
	return r
}

func multipartAudio(t *testing.T, audio []byte, format, language string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("audio", "capture."+format)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(audio)
	form.WriteField("format", format)
	form.WriteField("language", language)
	form.Close()
	return &body, form.FormDataContentType()
}

func TestTranscribeEndpoint(t *testing.T) {
	tr := &fakeTranscriber{text: "hello from audio"}
	router := newSpeechRouter(tr)

	body, contentType := multipartAudio(t, []byte("pcm-bytes"), "wav", "en-US")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result speechmodel.TranscriptionResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Text != "hello from audio" {
		t.Fatalf("unexpected transcript: %+v", result)
	}
	if string(tr.gotAudio) != "pcm-bytes" || tr.gotFormat != "wav" || tr.gotLanguage != "en-US" {
		t.Fatalf("upload fields not passed through: format=%q language=%q audio=%q",
			tr.gotFormat, tr.gotLanguage, tr.gotAudio)
	}
}

func TestTranscribeEndpointRequiresAudio(t *testing.T) {
	router := newSpeechRouter(&fakeTranscriber{})

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	form.WriteField("format", "wav")
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTranscribeEndpointUpstreamFailure(t *testing.T) {
	router := newSpeechRouter(&fakeTranscriber{err: errors.New("asr down")})

	body, contentType := multipartAudio(t, []byte("audio"), "wav", "")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestWebSocketUnavailableWithoutController(t *testing.T) {
	router := newSpeechRouter(&fakeTranscriber{})

	req := httptest.NewRequest(http.MethodGet, "/speech/ws", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}
