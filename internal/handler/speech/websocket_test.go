package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/yapvoice/yap/backend/internal/config"
	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
	speechmodel "github.com/yapvoice/yap/backend/internal/model/speech"
	convosvc "github.com/yapvoice/yap/backend/internal/service/conversation"
	"github.com/yapvoice/yap/backend/internal/service/llm"
	speechsvc "github.com/yapvoice/yap/backend/internal/service/speech"
)

type transcribeCall struct {
	audio  []byte
	format string
}

// scriptedTranscriber fails the first n calls, then succeeds with a fixed
// transcript. Every call is recorded.
type scriptedTranscriber struct {
	mu       sync.Mutex
	failures int
	text     string
	calls    []transcribeCall
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, req *speechmodel.TranscriptionRequest) (*speechmodel.TranscriptionResult, error) {
	var audio []byte
	if req.Audio != nil {
		audio, _ = io.ReadAll(req.Audio)
	}

	s.mu.Lock()
	s.calls = append(s.calls, transcribeCall{audio: audio, format: req.Format})
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return nil, speechsvc.ErrTranscriptionFailed
	}
	return &speechmodel.TranscriptionResult{Text: s.text, Confidence: 0.9}, nil
}

func (s *scriptedTranscriber) recorded() []transcribeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]transcribeCall, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// wsForwarder replays a scripted result; block, when non-nil, holds Complete
// until closed.
type wsForwarder struct {
	result *llm.Result
	block  chan struct{}
}

func (f *wsForwarder) Complete(ctx context.Context, _ convo.Settings, _ llm.Request) (*llm.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, nil
}

func captureConfig(autoSend bool) config.ConversationConfig {
	return config.ConversationConfig{
		ProviderURL:        "http://localhost:9999",
		Model:              "gpt-3.5-turbo",
		MaxContextMessages: 20,
		AutoSend:           autoSend,
		LogKey:             "default",
	}
}

func newCaptureServer(t *testing.T, tr speechsvc.Transcriber, fwd convosvc.Forwarder, cfg config.ConversationConfig) (*httptest.Server, *convosvc.Controller) {
	t.Helper()
	ctrl := convosvc.NewController(convosvc.NewStore(), convosvc.NewMachine(), fwd, nil)
	r := chi.NewRouter()
	NewCaptureHandler(tr, ctrl, cfg, nil).RegisterRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, ctrl
}

func dialCapture(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendClientEvent(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": eventType, "data": data}); err != nil {
		t.Fatalf("send %s event: %v", eventType, err)
	}
}

func readServerEvent(t *testing.T, conn *websocket.Conn, wantType string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read %s event: %v", wantType, err)
	}
	if event.Type != wantType {
		t.Fatalf("expected %s event, got %s (%s)", wantType, event.Type, event.Data)
	}
	return event.Data
}

func waitForMachineState(t *testing.T, ctrl *convosvc.Controller, want convosvc.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.Machine().State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("machine never reached %s, stuck in %s", want, ctrl.Machine().State())
}

func TestCaptureSessionTranscribesBufferedAudio(t *testing.T) {
	tr := &scriptedTranscriber{text: "hello spoken"}
	ts, ctrl := newCaptureServer(t, tr, &wsForwarder{result: &llm.Result{Content: "ok"}}, captureConfig(false))
	conn := dialCapture(t, ts)

	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "begin", nil)
	readServerEvent(t, conn, "state")

	sendClientEvent(t, conn, "audio", map[string]any{"audioData": []byte("pcm-"), "format": "webm", "chunkIndex": 0})
	sendClientEvent(t, conn, "audio", map[string]any{"audioData": []byte("bytes"), "format": "webm", "chunkIndex": 1})
	sendClientEvent(t, conn, "end", nil)

	data := readServerEvent(t, conn, "transcript")
	var transcript struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &transcript); err != nil {
		t.Fatal(err)
	}
	if transcript.Text != "hello spoken" {
		t.Fatalf("unexpected transcript: %q", transcript.Text)
	}

	calls := tr.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected one transcription, got %d", len(calls))
	}
	if string(calls[0].audio) != "pcm-bytes" {
		t.Fatalf("chunks not concatenated in order: %q", calls[0].audio)
	}
	if calls[0].format != "webm" {
		t.Fatalf("capture format not passed through: %q", calls[0].format)
	}

	if ctrl.Machine().State() != convosvc.StateReady || ctrl.Machine().Draft() != "hello spoken" {
		t.Fatalf("expected ready with transcript draft, got %s / %q",
			ctrl.Machine().State(), ctrl.Machine().Draft())
	}
}

func TestAutoSendSubmitsTranscript(t *testing.T) {
	tr := &scriptedTranscriber{text: "send me"}
	fwd := &wsForwarder{result: &llm.Result{Content: "the reply"}}
	ts, ctrl := newCaptureServer(t, tr, fwd, captureConfig(true))
	conn := dialCapture(t, ts)

	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "begin", nil)
	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "audio", map[string]any{"audioData": []byte("audio"), "format": "wav"})
	sendClientEvent(t, conn, "end", nil)

	readServerEvent(t, conn, "transcript")
	data := readServerEvent(t, conn, "assistant")
	var reply struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Text != "the reply" {
		t.Fatalf("unexpected assistant text: %q", reply.Text)
	}

	messages := ctrl.Store().Messages()
	if len(messages) != 2 {
		t.Fatalf("expected user+assistant entries, got %d", len(messages))
	}
	if messages[0].Role != convo.RoleUser || messages[0].Content != "send me" {
		t.Fatalf("unexpected user entry: %+v", messages[0])
	}
	if !strings.HasPrefix(messages[0].AudioRef, "capture-") {
		t.Fatalf("voice turn must carry its audio reference: %+v", messages[0])
	}
	if ctrl.Machine().State() != convosvc.StateIdle {
		t.Fatalf("machine must return to idle, got %s", ctrl.Machine().State())
	}
}

func TestOverlappingSendRejectedOverSocket(t *testing.T) {
	fwd := &wsForwarder{result: &llm.Result{Content: "late reply"}, block: make(chan struct{})}
	ts, ctrl := newCaptureServer(t, &scriptedTranscriber{}, fwd, captureConfig(false))

	first := dialCapture(t, ts)
	readServerEvent(t, first, "state")
	sendClientEvent(t, first, "text", map[string]any{"text": "first"})
	readServerEvent(t, first, "user")
	waitForMachineState(t, ctrl, convosvc.StateSending)

	second := dialCapture(t, ts)
	readServerEvent(t, second, "state")
	sendClientEvent(t, second, "text", map[string]any{"text": "second"})
	readServerEvent(t, second, "user")
	readServerEvent(t, second, "rejected")

	close(fwd.block)
	readServerEvent(t, first, "assistant")

	var users int
	for _, m := range ctrl.Store().Messages() {
		if m.Role == convo.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("expected exactly one user entry, got %d", users)
	}
}

func TestRetryAfterTranscriptFailureKeepsCapture(t *testing.T) {
	tr := &scriptedTranscriber{text: "finally", failures: 1}
	ts, ctrl := newCaptureServer(t, tr, &wsForwarder{result: &llm.Result{Content: "ok"}}, captureConfig(false))
	conn := dialCapture(t, ts)

	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "begin", nil)
	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "audio", map[string]any{"audioData": []byte("raw capture"), "format": "webm"})
	sendClientEvent(t, conn, "end", nil)

	data := readServerEvent(t, conn, "transcript_error")
	var failure struct {
		Retryable bool `json:"retryable"`
	}
	if err := json.Unmarshal(data, &failure); err != nil {
		t.Fatal(err)
	}
	if !failure.Retryable {
		t.Fatal("transcription failure must be reported retryable")
	}
	if ctrl.Machine().State() != convosvc.StateErrorRecoverable {
		t.Fatalf("expected recoverable error, got %s", ctrl.Machine().State())
	}

	sendClientEvent(t, conn, "retry", nil)
	readServerEvent(t, conn, "transcript")

	calls := tr.recorded()
	if len(calls) != 2 {
		t.Fatalf("expected two transcription attempts, got %d", len(calls))
	}
	if string(calls[1].audio) != "raw capture" {
		t.Fatalf("retry must reuse the retained audio: %q", calls[1].audio)
	}
	if calls[1].format != "webm" {
		t.Fatalf("retry must reuse the capture format, got %q", calls[1].format)
	}
	if ctrl.Machine().State() != convosvc.StateReady || ctrl.Machine().Draft() != "finally" {
		t.Fatalf("expected ready with transcript, got %s / %q",
			ctrl.Machine().State(), ctrl.Machine().Draft())
	}
}

func TestStrayEndLeavesSessionUsable(t *testing.T) {
	tr := &scriptedTranscriber{text: "ok"}
	ts, _ := newCaptureServer(t, tr, &wsForwarder{result: &llm.Result{Content: "ok"}}, captureConfig(false))
	conn := dialCapture(t, ts)

	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "end", nil)
	readServerEvent(t, conn, "error")

	sendClientEvent(t, conn, "begin", nil)
	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "audio", map[string]any{"audioData": []byte("kept"), "format": "wav"})
	sendClientEvent(t, conn, "end", nil)
	readServerEvent(t, conn, "transcript")

	calls := tr.recorded()
	if len(calls) != 1 || string(calls[0].audio) != "kept" {
		t.Fatalf("capture after a stray end must transcribe its own audio: %+v", calls)
	}
}

func TestAudioRejectedDuringTextEntry(t *testing.T) {
	ts, ctrl := newCaptureServer(t, &scriptedTranscriber{}, &wsForwarder{result: &llm.Result{Content: "ok"}}, captureConfig(false))
	conn := dialCapture(t, ts)
	readServerEvent(t, conn, "state")

	if err := ctrl.Machine().BeginCapture(convosvc.ModeText); err != nil {
		t.Fatal(err)
	}

	sendClientEvent(t, conn, "audio", map[string]any{"audioData": []byte("stray"), "format": "wav"})
	readServerEvent(t, conn, "error")
}

func TestDiscardOverSocketResetsState(t *testing.T) {
	tr := &scriptedTranscriber{text: "drop me"}
	ts, ctrl := newCaptureServer(t, tr, &wsForwarder{result: &llm.Result{Content: "ok"}}, captureConfig(false))
	conn := dialCapture(t, ts)

	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "begin", nil)
	readServerEvent(t, conn, "state")
	sendClientEvent(t, conn, "audio", map[string]any{"audioData": []byte("audio"), "format": "wav"})
	sendClientEvent(t, conn, "end", nil)
	readServerEvent(t, conn, "transcript")

	sendClientEvent(t, conn, "discard", nil)
	data := readServerEvent(t, conn, "state")
	var state struct {
		State string `json:"state"`
		Draft string `json:"draft"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}
	if state.State != string(convosvc.StateIdle) || state.Draft != "" {
		t.Fatalf("discard must report a reset machine: %+v", state)
	}
	if ctrl.Store().Len() != 0 {
		t.Fatal("discard must not touch the log")
	}
}
