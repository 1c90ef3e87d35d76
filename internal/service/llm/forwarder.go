package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	convo "github.com/yapvoice/yap/backend/internal/model/conversation"
)

// DefaultTimeout bounds the upstream call when the settings snapshot does not
// supply one.
const DefaultTimeout = 60 * time.Second

// ErrStreamingUnsupported is returned before any upstream call when a caller
// requests streaming; the forwarder never partially consumes a stream.
var ErrStreamingUnsupported = errors.New("streaming responses are not supported")

// Kind classifies a normalized forwarder failure.
type Kind string

const (
	KindNotConfigured   Kind = "not_configured"
	KindUnreachable     Kind = "unreachable"
	KindTimeout         Kind = "timeout"
	KindUpstreamError   Kind = "upstream_error"
	KindInvalidResponse Kind = "invalid_response"
)

// Error is a normalized forwarder failure. Its message is sanitized for the
// user: upstream bodies, credentials, and stack traces never pass through.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Request is an assembled chat completion request.
type Request struct {
	Model       string
	Messages    []convo.ChatTurn
	Temperature float32
	MaxTokens   int
	Stream      bool
}

// Result is a normalized provider success.
type Result struct {
	Content      string
	FinishReason string
	Usage        *convo.Usage
}

// Forwarder relays chat requests to an OpenAI-compatible endpoint. It is
// stateless and performs no retries; retry policy belongs to the turn
// controller. A single forwarder may serve unrelated conversations
// concurrently.
type Forwarder struct{}

// NewForwarder creates a forwarder.
func NewForwarder() *Forwarder {
	return &Forwarder{}
}

// Complete forwards the request using the per-call settings snapshot and maps
// provider responses and errors into a normalized result. A context canceled
// by the caller is returned as-is so an aborted attempt is not mistaken for a
// provider failure.
func (f *Forwarder) Complete(ctx context.Context, settings convo.Settings, req Request) (*Result, error) {
	if req.Stream {
		return nil, ErrStreamingUnsupported
	}
	if settings.EndpointURL == "" {
		return nil, &Error{
			Kind:    KindNotConfigured,
			Message: "LLM provider not configured. Set LLM_PROVIDER_URL.",
		}
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = settings.Model
	}

	clientCfg := openai.DefaultConfig(settings.APIKey)
	clientCfg.BaseURL = strings.TrimSuffix(settings.EndpointURL, "/") + "/v1"
	client := openai.NewClientWithConfig(clientCfg)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, turn := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return nil, f.classify(err, timeout)
	}

	if len(resp.Choices) == 0 {
		log.Printf("[forwarder] provider returned no choices, model=%s", model)
		return nil, &Error{
			Kind:    KindInvalidResponse,
			Message: "LLM provider returned an unexpected response.",
		}
	}

	result := &Result{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
	}
	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		result.Usage = &convo.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// classify maps transport and provider errors onto the failure taxonomy. The
// raw error is logged here and never reaches the caller.
func (f *Forwarder) classify(err error, timeout time.Duration) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("chat request aborted: %w", context.Canceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Printf("[forwarder] request timed out after %s", timeout)
		return &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("Request to LLM provider timed out after %ds.", int(timeout.Seconds())),
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		log.Printf("[forwarder] provider error status=%d", apiErr.HTTPStatusCode)
		return &Error{
			Kind:    KindUpstreamError,
			Message: fmt.Sprintf("LLM provider returned status %d.", apiErr.HTTPStatusCode),
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		log.Printf("[forwarder] provider request error status=%d", reqErr.HTTPStatusCode)
		return &Error{
			Kind:    KindUpstreamError,
			Message: fmt.Sprintf("LLM provider returned status %d.", reqErr.HTTPStatusCode),
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		log.Printf("[forwarder] provider unreachable: %v", urlErr)
		return &Error{
			Kind:    KindUnreachable,
			Message: "Failed to connect to the LLM provider.",
		}
	}

	log.Printf("[forwarder] malformed provider response: %v", err)
	return &Error{
		Kind:    KindInvalidResponse,
		Message: "LLM provider returned an unexpected response.",
	}
}
