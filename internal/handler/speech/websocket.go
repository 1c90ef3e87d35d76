package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yapvoice/yap/backend/internal/config"
	"github.com/yapvoice/yap/backend/internal/service/conversation"
	"github.com/yapvoice/yap/backend/internal/service/llm"
	"github.com/yapvoice/yap/backend/internal/service/metrics"
	speechsvc "github.com/yapvoice/yap/backend/internal/service/speech"
)

// CaptureHandler drives the voice input lifecycle over a WebSocket: begin
// capture, buffered audio chunks, end capture, transcription, and optional
// auto-send. The conversation's single-flight guard stays in charge; an
// auto-send arriving while a turn is in flight is rejected, not queued.
type CaptureHandler struct {
	transcriber speechsvc.Transcriber
	ctrl        *conversation.Controller
	cfg         config.ConversationConfig
	recorder    metrics.Recorder
	upgrader    websocket.Upgrader
}

// NewCaptureHandler creates the WebSocket capture handler.
func NewCaptureHandler(transcriber speechsvc.Transcriber, ctrl *conversation.Controller, cfg config.ConversationConfig, recorder metrics.Recorder) *CaptureHandler {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &CaptureHandler{
		transcriber: transcriber,
		ctrl:        ctrl,
		cfg:         cfg,
		recorder:    recorder,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the capture WebSocket route.
func (h *CaptureHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundEvent struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type audioChunk struct {
	AudioData  []byte `json:"audioData"`
	Format     string `json:"format"`
	ChunkIndex int    `json:"chunkIndex"`
}

type typedText struct {
	Text string `json:"text"`
}

type outgoingEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type captureSession struct {
	buffer bytes.Buffer
	format string
}

func (h *CaptureHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[capture] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[capture] new voice capture connection")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go h.pingLoop(ctx, conn)

	session := &captureSession{}
	h.sendEvent(conn, "state", h.stateData())

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var event inboundEvent
			if err := conn.ReadJSON(&event); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[capture] read error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			h.handleEvent(ctx, conn, session, &event)
		}
	}
}

func (h *CaptureHandler) handleEvent(ctx context.Context, conn *websocket.Conn, session *captureSession, event *inboundEvent) {
	switch event.Type {
	case "begin":
		h.handleBegin(conn, session)
	case "audio":
		h.handleAudio(conn, session, event.Data)
	case "end":
		h.handleEnd(ctx, conn, session)
	case "text":
		h.handleText(ctx, conn, event.Data)
	case "retry":
		h.handleRetry(ctx, conn)
	case "discard":
		h.handleDiscard(conn)
	default:
		h.sendError(conn, "unsupported event type: "+event.Type)
	}
}

func (h *CaptureHandler) handleBegin(conn *websocket.Conn, session *captureSession) {
	if err := h.ctrl.Machine().BeginCapture(conversation.ModeVoice); err != nil {
		h.sendError(conn, err.Error())
		return
	}
	session.buffer.Reset()
	session.format = ""
	h.sendEvent(conn, "state", h.stateData())
}

func (h *CaptureHandler) handleAudio(conn *websocket.Conn, session *captureSession, raw json.RawMessage) {
	var chunk audioChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		h.sendError(conn, "invalid audio payload")
		return
	}

	machine := h.ctrl.Machine()
	if machine.State() != conversation.StateCapturing || machine.Mode() != conversation.ModeVoice {
		h.sendError(conn, "no voice capture in progress")
		return
	}

	if len(chunk.AudioData) > 0 {
		session.buffer.Write(chunk.AudioData)
	}
	if chunk.Format != "" {
		session.format = chunk.Format
	}
}

// handleEnd hands the buffered capture to the machine. The buffer is only
// reset once the transition is accepted, so a stray end event cannot discard
// recorded audio.
func (h *CaptureHandler) handleEnd(ctx context.Context, conn *websocket.Conn, session *captureSession) {
	audio := make([]byte, session.buffer.Len())
	copy(audio, session.buffer.Bytes())
	format := session.format

	audioRef := "capture-" + uuid.NewString()
	elapsed, err := h.ctrl.Machine().EndCapture(audio, audioRef, format)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}
	session.buffer.Reset()
	session.format = ""

	h.recorder.Record(metrics.Event{
		EventType:       metrics.EventASRRecord,
		DurationSeconds: elapsed.Seconds(),
		Status:          "success",
	})

	h.transcribe(ctx, conn, audio, format)
}

// transcribe runs the ASR round trip and installs the transcript as the
// editable draft. On auto-send the draft is submitted immediately; an
// overlapping in-flight turn makes the guard reject it.
func (h *CaptureHandler) transcribe(ctx context.Context, conn *websocket.Conn, audio []byte, format string) {
	start := time.Now()
	result, err := speechsvc.TranscribeBuffer(ctx, h.transcriber, h.cfg.LogKey, audio, format, "")
	if err != nil {
		log.Printf("[capture] transcription failed: %v", err)
		if terr := h.ctrl.Machine().TranscriptFailed(); terr != nil {
			log.Printf("[capture] transcript failure transition: %v", terr)
		}
		h.recorder.Record(metrics.Event{
			EventType:       metrics.EventASRTranscribe,
			DurationSeconds: time.Since(start).Seconds(),
			Status:          "error",
		})
		h.sendEvent(conn, "transcript_error", map[string]any{
			"error":     "Transcription failed. The recording is kept, retry without re-recording.",
			"retryable": true,
		})
		return
	}

	h.recorder.Record(metrics.Event{
		EventType:       metrics.EventASRTranscribe,
		DurationSeconds: time.Since(start).Seconds(),
		OutputChars:     len(result.Text),
		Status:          "success",
	})

	if err := h.ctrl.Machine().TranscriptReady(result.Text); err != nil {
		h.sendError(conn, err.Error())
		return
	}

	h.sendEvent(conn, "transcript", map[string]any{
		"text":       result.Text,
		"confidence": result.Confidence,
	})

	if h.cfg.AutoSend {
		h.submit(ctx, conn)
	}
}

func (h *CaptureHandler) handleText(ctx context.Context, conn *websocket.Conn, raw json.RawMessage) {
	var payload typedText
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(conn, "invalid text payload")
		return
	}
	if payload.Text == "" {
		return
	}

	h.sendEvent(conn, "user", map[string]any{"text": payload.Text})

	reply, err := h.ctrl.SubmitText(ctx, h.cfg.Settings(), payload.Text)
	if err != nil {
		h.sendSubmitError(conn, err)
		return
	}
	h.sendEvent(conn, "assistant", map[string]any{"text": reply.Content, "id": reply.ID})
}

// handleRetry resumes after a recoverable error: a preserved draft goes back
// to Ready and is resubmitted; retained audio without a draft is transcribed
// again without re-recording.
func (h *CaptureHandler) handleRetry(ctx context.Context, conn *websocket.Conn) {
	machine := h.ctrl.Machine()
	if err := machine.Retry(); err != nil {
		h.sendError(conn, err.Error())
		return
	}

	switch machine.State() {
	case conversation.StateAwaitingTranscript:
		h.transcribe(ctx, conn, machine.Audio(), machine.AudioFormat())
	case conversation.StateReady:
		h.submit(ctx, conn)
	}
}

func (h *CaptureHandler) handleDiscard(conn *websocket.Conn) {
	if err := h.ctrl.Machine().Discard(); err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.sendEvent(conn, "state", h.stateData())
}

func (h *CaptureHandler) submit(ctx context.Context, conn *websocket.Conn) {
	reply, err := h.ctrl.Submit(ctx, h.cfg.Settings())
	if err != nil {
		h.sendSubmitError(conn, err)
		return
	}
	h.sendEvent(conn, "assistant", map[string]any{"text": reply.Content, "id": reply.ID})
}

func (h *CaptureHandler) sendSubmitError(conn *websocket.Conn, err error) {
	if errors.Is(err, conversation.ErrGuardRejected) {
		h.sendEvent(conn, "rejected", map[string]any{"error": err.Error()})
		return
	}

	var fwdErr *llm.Error
	if errors.As(err, &fwdErr) {
		h.sendEvent(conn, "turn_error", map[string]any{
			"error":     fwdErr.Message,
			"kind":      string(fwdErr.Kind),
			"retryable": true,
		})
		return
	}
	h.sendError(conn, "submission failed")
}

func (h *CaptureHandler) stateData() map[string]any {
	machine := h.ctrl.Machine()
	return map[string]any{
		"state":            machine.State(),
		"draft":            machine.Draft(),
		"captureElapsedMs": machine.CaptureElapsed().Milliseconds(),
	}
}

func (h *CaptureHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (h *CaptureHandler) sendEvent(conn *websocket.Conn, eventType string, data interface{}) {
	event := outgoingEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := conn.WriteJSON(event); err != nil {
		log.Printf("[capture] failed to send %s event: %v", eventType, err)
	}
}

func (h *CaptureHandler) sendError(conn *websocket.Conn, message string) {
	h.sendEvent(conn, "error", map[string]string{"error": message})
}
