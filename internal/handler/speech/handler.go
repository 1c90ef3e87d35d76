package speech

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yapvoice/yap/backend/internal/config"
	speechmodel "github.com/yapvoice/yap/backend/internal/model/speech"
	"github.com/yapvoice/yap/backend/internal/service/conversation"
	"github.com/yapvoice/yap/backend/internal/service/metrics"
	speechsvc "github.com/yapvoice/yap/backend/internal/service/speech"
	"github.com/yapvoice/yap/backend/pkg/utils"
)

// Handler exposes the ASR collaborator over HTTP.
type Handler struct {
	transcriber speechsvc.Transcriber
}

// New creates a speech handler.
func New(transcriber speechsvc.Transcriber) *Handler {
	return &Handler{transcriber: transcriber}
}

// RegisterRoutes registers speech routes, including the WebSocket capture
// channel when a conversation controller is available.
func (h *Handler) RegisterRoutes(r chi.Router, ctrl *conversation.Controller, cfg config.ConversationConfig, recorder metrics.Recorder) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)

		if ctrl != nil {
			wsHandler := NewCaptureHandler(h.transcriber, ctrl, cfg, recorder)
			wsHandler.RegisterRoutes(speechRouter)
		} else {
			speechRouter.Get("/ws", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "voice capture not available")
			})
		}
	})
}

// handleTranscribe is a one-shot transcription passthrough: multipart audio
// in, recognized text out.
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	result, err := h.transcriber.Transcribe(r.Context(), &speechmodel.TranscriptionRequest{
		Audio:    file,
		Format:   r.FormValue("format"),
		Language: r.FormValue("language"),
	})
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}
