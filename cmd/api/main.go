package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yapvoice/yap/backend/internal/config"
	"github.com/yapvoice/yap/backend/internal/handler"
	speechmodel "github.com/yapvoice/yap/backend/internal/model/speech"
	"github.com/yapvoice/yap/backend/internal/service/conversation"
	"github.com/yapvoice/yap/backend/internal/service/llm"
	"github.com/yapvoice/yap/backend/internal/service/metrics"
	speechsvc "github.com/yapvoice/yap/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	journal := conversation.NewJournal(cfg.Conversation.LogPath)
	store, err := conversation.NewPersistentStore(journal, cfg.Conversation.LogKey)
	if err != nil {
		log.Fatalf("failed to open conversation log: %v", err)
	}
	log.Printf("conversation log loaded, %d message(s)", store.Len())

	var recorder metrics.Recorder = metrics.Noop{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewHTTPRecorder(cfg.Metrics.BaseURL)
		log.Println("metrics recorder enabled")
	}

	if !cfg.Conversation.Configured() {
		log.Println("warning: LLM_PROVIDER_URL not set, submissions will fail until configured")
	}

	ctrl := conversation.NewController(store, conversation.NewMachine(), llm.NewForwarder(), recorder)

	var transcriber speechsvc.Transcriber
	if cfg.Speech.Enabled {
		transcriber = speechsvc.NewHTTPTranscriber(&speechmodel.Config{
			BaseURL:  cfg.Speech.BaseURL,
			APIKey:   cfg.Speech.APIKey,
			Model:    cfg.Speech.Model,
			Language: cfg.Speech.Language,
			Timeout:  cfg.Speech.Timeout,
		})
		log.Println("ASR service configured")
	} else {
		log.Println("ASR service not configured, voice input disabled")
	}

	router := handler.NewRouter(cfg, ctrl, transcriber, recorder)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("YAP backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
