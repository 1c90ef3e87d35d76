// chattester is a manual test tool for the LLM forwarder and the ASR client,
// driven by the same environment configuration as the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/yapvoice/yap/backend/internal/config"
	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
	speechmodel "github.com/yapvoice/yap/backend/internal/model/speech"
	"github.com/yapvoice/yap/backend/internal/service/llm"
	speechsvc "github.com/yapvoice/yap/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] failed to load .env, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	mode := flag.String("mode", "", "test mode: chat or asr")
	prompt := flag.String("prompt", "Say hello in one sentence.", "chat prompt to send")
	system := flag.String("system", "", "system prompt override")
	audioPath := flag.String("audio", "", "ASR input audio file path")
	format := flag.String("format", "wav", "ASR input audio format")
	timeout := flag.Duration("timeout", 60*time.Second, "request timeout")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "chat":
		runChat(ctx, cfg, *prompt, *system)
	case "asr":
		runASR(ctx, cfg, *audioPath, *format)
	default:
		flag.Usage()
		log.Fatal("specify -mode=chat or -mode=asr")
	}
}

func runChat(ctx context.Context, cfg *config.Config, prompt, system string) {
	if !cfg.Conversation.Configured() {
		log.Fatal("LLM provider not configured, set LLM_PROVIDER_URL")
	}

	settings := cfg.Conversation.Settings()
	if system != "" {
		settings.SystemPrompt = system
	}

	turns := make([]convo.ChatTurn, 0, 2)
	if settings.SystemPrompt != "" {
		turns = append(turns, convo.ChatTurn{Role: "system", Content: settings.SystemPrompt})
	}
	turns = append(turns, convo.ChatTurn{Role: "user", Content: prompt})

	forwarder := llm.NewForwarder()
	start := time.Now()
	result, err := forwarder.Complete(ctx, settings, llm.Request{
		Model:       settings.Model,
		Messages:    turns,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	})
	if err != nil {
		log.Fatalf("chat request failed: %v", err)
	}

	log.Printf("round trip took %s, finish_reason=%s", time.Since(start), result.FinishReason)
	if result.Usage != nil {
		log.Printf("usage: prompt=%d completion=%d total=%d",
			result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens)
	}
	fmt.Println(result.Content)
}

func runASR(ctx context.Context, cfg *config.Config, audioPath, format string) {
	if !cfg.Speech.Enabled {
		log.Fatal("ASR service not configured, set ASR_BASE_URL")
	}
	if audioPath == "" {
		log.Fatal("specify -audio with an input file")
	}

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("failed to read audio file: %v", err)
	}

	transcriber := speechsvc.NewHTTPTranscriber(&speechmodel.Config{
		BaseURL:  cfg.Speech.BaseURL,
		APIKey:   cfg.Speech.APIKey,
		Model:    cfg.Speech.Model,
		Language: cfg.Speech.Language,
		Timeout:  cfg.Speech.Timeout,
	})

	start := time.Now()
	result, err := speechsvc.TranscribeBuffer(ctx, transcriber, "chattester", audio, format, cfg.Speech.Language)
	if err != nil {
		log.Fatalf("transcription failed: %v", err)
	}

	log.Printf("transcription took %s, confidence=%.2f", time.Since(start), result.Confidence)
	fmt.Println(result.Text)
}
