package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yapvoice/yap/backend/internal/config"
	"github.com/yapvoice/yap/backend/internal/service/conversation"
	"github.com/yapvoice/yap/backend/internal/service/export"
	"github.com/yapvoice/yap/backend/internal/service/llm"
	"github.com/yapvoice/yap/backend/pkg/utils"
)

// Handler exposes the conversation core over HTTP.
type Handler struct {
	ctrl *conversation.Controller
	cfg  config.ConversationConfig
}

// New creates a conversation handler.
func New(ctrl *conversation.Controller, cfg config.ConversationConfig) *Handler {
	return &Handler{ctrl: ctrl, cfg: cfg}
}

// RegisterRoutes registers the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversation", func(r chi.Router) {
		r.Get("/state", h.handleState)
		r.Get("/messages", h.handleListMessages)
		r.Post("/messages", h.handleSubmitText)
		r.Delete("/messages", h.handleClear)
		r.Delete("/messages/{messageID}", h.handleDeleteMessage)
		r.Post("/draft", h.handleSetDraft)
		r.Post("/submit", h.handleSubmitDraft)
		r.Post("/cancel", h.handleCancel)
		r.Post("/retry", h.handleRetry)
		r.Post("/discard", h.handleDiscard)
		r.Get("/export", h.handleExport)
		r.Post("/import", h.handleImport)
	})
}

// handleState reports the input state machine position and the current draft.
func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	machine := h.ctrl.Machine()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"state":            machine.State(),
		"draft":            machine.Draft(),
		"captureElapsedMs": machine.CaptureElapsed().Milliseconds(),
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.ctrl.Store().Messages())
}

// handleSubmitText runs a full typed turn: draft installed and submitted in
// one request.
func (h *Handler) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.ctrl.SubmitText(r.Context(), h.cfg.Settings(), payload.Content)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, reply)
}

// handleSubmitDraft submits whatever draft the machine currently holds, e.g.
// an edited transcript or a preserved draft after a retry acknowledgement.
func (h *Handler) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	reply, err := h.ctrl.Submit(r.Context(), h.cfg.Settings())
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, reply)
}

func (h *Handler) respondSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, conversation.ErrGuardRejected) {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		utils.RespondError(w, http.StatusConflict, "submission canceled")
		return
	}

	var fwdErr *llm.Error
	if errors.As(err, &fwdErr) {
		utils.RespondJSON(w, statusForKind(fwdErr.Kind), map[string]string{
			"error": fwdErr.Message,
			"kind":  string(fwdErr.Kind),
		})
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, "submission failed")
}

func statusForKind(kind llm.Kind) int {
	switch kind {
	case llm.KindNotConfigured:
		return http.StatusServiceUnavailable
	case llm.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) handleSetDraft(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.ctrl.Machine().SetDraft(payload.Content); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) handleClear(w http.ResponseWriter, _ *http.Request) {
	h.ctrl.Store().Clear()
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	if err := h.ctrl.Store().Delete(id); err != nil {
		utils.RespondError(w, http.StatusNotFound, "message not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleCancel aborts the in-flight send, returning the draft to Ready.
func (h *Handler) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if !h.ctrl.Abort() {
		utils.RespondError(w, http.StatusConflict, "no submission in flight")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (h *Handler) handleRetry(w http.ResponseWriter, _ *http.Request) {
	if err := h.ctrl.Machine().Retry(); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"state": h.ctrl.Machine().State()})
}

func (h *Handler) handleDiscard(w http.ResponseWriter, _ *http.Request) {
	if err := h.ctrl.Machine().Discard(); err != nil {
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"state": h.ctrl.Machine().State()})
}

// handleExport renders the conversation, or the subset named by ids, as
// markdown or a JSON bundle.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}
	selected := export.Select(h.ctrl.Store().Messages(), ids)
	bundle := export.NewBundle(selected)

	switch r.URL.Query().Get("format") {
	case "", "json":
		utils.RespondJSON(w, http.StatusOK, bundle)
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, export.RenderMarkdown(bundle)); err != nil {
			return
		}
	default:
		utils.RespondError(w, http.StatusBadRequest, "unsupported export format")
	}
}

// handleImport appends the turns of a previously exported bundle to the log,
// preserving role, content, and order.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	bundle, err := export.DecodeJSON(data)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid export bundle")
		return
	}

	imported := 0
	for _, message := range export.Import(bundle) {
		if _, err := h.ctrl.Store().Append(message); err == nil {
			imported++
		}
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]int{"imported": imported})
}
