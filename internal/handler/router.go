package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yapvoice/yap/backend/internal/config"
	conversationhandler "github.com/yapvoice/yap/backend/internal/handler/conversation"
	speechhandler "github.com/yapvoice/yap/backend/internal/handler/speech"
	"github.com/yapvoice/yap/backend/internal/service/conversation"
	"github.com/yapvoice/yap/backend/internal/service/metrics"
	speechsvc "github.com/yapvoice/yap/backend/internal/service/speech"
	"github.com/yapvoice/yap/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, ctrl *conversation.Controller, transcriber speechsvc.Transcriber, recorder metrics.Recorder) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	conversationHandler := conversationhandler.New(ctrl, cfg.Conversation)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":              "ok",
				"service":             "yap-backend",
				"provider_configured": cfg.Conversation.Configured(),
				"model":               cfg.Conversation.Model,
				"asr_configured":      transcriber != nil,
			})
		})

		conversationHandler.RegisterRoutes(api)

		if transcriber != nil {
			speechHandler := speechhandler.New(transcriber)
			speechHandler.RegisterRoutes(api, ctrl, cfg.Conversation, recorder)
		}
	})

	return r
}
