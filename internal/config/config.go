package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
)

// Config aggregates the configuration for the whole service.
type Config struct {
	Server       ServerConfig
	Conversation ConversationConfig
	Speech       SpeechConfig
	Metrics      MetricsConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	conversation, err := loadConversationConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	metrics, err := loadMetricsConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		Conversation: conversation,
		Speech:       speech,
		Metrics:      metrics,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		// Accept both ":8080" and "127.0.0.1:8080" forms directly.
		addr = ":" + port
	}

	origins := strings.Split(getEnvOrDefault("CORS_ORIGINS", "http://localhost:*,https://localhost:*"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return ServerConfig{Addr: addr, CORSOrigins: origins}, nil
}

// ConversationConfig describes the LLM provider and the conversation core
// limits. Variable names follow the YAP proxy service.
type ConversationConfig struct {
	ProviderURL        string
	APIKey             string
	Model              string
	Temperature        float32
	MaxTokens          int
	SystemPrompt       string
	MaxContextMessages int
	MaxDraftLength     int
	Timeout            int // seconds
	AutoSend           bool
	LogPath            string
	LogKey             string
}

// Configured reports whether an LLM endpoint is set.
func (c ConversationConfig) Configured() bool {
	return c.ProviderURL != ""
}

// Settings returns the read-only snapshot passed to the assembler, forwarder,
// and controller per call, so an exchange already in flight is unaffected by
// later setting changes.
func (c ConversationConfig) Settings() convo.Settings {
	return convo.Settings{
		EndpointURL:        c.ProviderURL,
		APIKey:             c.APIKey,
		Model:              c.Model,
		Temperature:        c.Temperature,
		MaxTokens:          c.MaxTokens,
		SystemPrompt:       c.SystemPrompt,
		MaxContextMessages: c.MaxContextMessages,
		MaxDraftLength:     c.MaxDraftLength,
		Timeout:            time.Duration(c.Timeout) * time.Second,
		AutoSend:           c.AutoSend,
	}
}

func loadConversationConfig() (ConversationConfig, error) {
	temperature, err := parseOptionalFloat32Env("LLM_TEMPERATURE")
	if err != nil {
		return ConversationConfig{}, err
	}
	temp := float32(0.7)
	if temperature != nil {
		temp = *temperature
	}

	maxTokens, err := parseIntEnv("LLM_MAX_TOKENS", 2000)
	if err != nil {
		return ConversationConfig{}, err
	}

	timeout, err := parseIntEnv("LLM_TIMEOUT", 60)
	if err != nil {
		return ConversationConfig{}, err
	}

	maxContext, err := parseIntEnv("MAX_CONTEXT_MESSAGES", 20)
	if err != nil {
		return ConversationConfig{}, err
	}
	if maxContext < 0 {
		maxContext = 0
	}

	maxDraft, err := parseIntEnv("MAX_DRAFT_LENGTH", 4000)
	if err != nil {
		return ConversationConfig{}, err
	}

	autoSend, err := parseBoolEnv("AUTO_SEND", false)
	if err != nil {
		return ConversationConfig{}, err
	}

	return ConversationConfig{
		ProviderURL:        strings.TrimSpace(os.Getenv("LLM_PROVIDER_URL")),
		APIKey:             strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		Model:              getEnvOrDefault("LLM_MODEL", "gpt-3.5-turbo"),
		Temperature:        temp,
		MaxTokens:          maxTokens,
		SystemPrompt:       os.Getenv("SYSTEM_PROMPT"),
		MaxContextMessages: maxContext,
		MaxDraftLength:     maxDraft,
		Timeout:            timeout,
		AutoSend:           autoSend,
		LogPath:            getEnvOrDefault("CONVERSATION_LOG_PATH", "data/conversations.json"),
		LogKey:             getEnvOrDefault("CONVERSATION_LOG_KEY", "default"),
	}, nil
}

// SpeechConfig describes the external ASR service.
type SpeechConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  int // seconds
	Enabled  bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseIntEnv("ASR_TIMEOUT", 30)
	if err != nil {
		return SpeechConfig{}, err
	}

	baseURL := strings.TrimSpace(os.Getenv("ASR_BASE_URL"))

	return SpeechConfig{
		BaseURL:  baseURL,
		APIKey:   strings.TrimSpace(os.Getenv("ASR_API_KEY")),
		Model:    getEnvOrDefault("ASR_MODEL", ""),
		Language: getEnvOrDefault("ASR_LANGUAGE", "en-US"),
		Timeout:  timeout,
		Enabled:  baseURL != "",
	}, nil
}

// MetricsConfig describes the optional local metrics sink.
type MetricsConfig struct {
	BaseURL string
	Enabled bool
}

func loadMetricsConfig() (MetricsConfig, error) {
	enabled, err := parseBoolEnv("METRICS_ENABLED", false)
	if err != nil {
		return MetricsConfig{}, err
	}

	baseURL := strings.TrimSpace(os.Getenv("METRICS_BASE_URL"))
	if baseURL == "" {
		enabled = false
	}

	return MetricsConfig{BaseURL: baseURL, Enabled: enabled}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
