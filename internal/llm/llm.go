package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkarlin/llm-playground/internal/utils"
)

const defaultHTTPTimeout = 60 * time.Second

// ErrUnsupportedModel is returned when no provider family claims the model
// prefix. No network call is made in that case.
var ErrUnsupportedModel = errors.New("llm: unsupported model")

// Message is one chat turn in the OpenAI-style wire shape both families
// derive from.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Settings carries the generation options recognised by the gateway. Zero
// values mean "use the default"; see DefaultSettings.
type Settings struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

func DefaultSettings() Settings {
	return Settings{
		Temperature: 1.0,
		MaxTokens:   2048,
		TopP:        1.0,
	}
}

// UpstreamError wraps a provider-side or network failure. It is surfaced to
// the caller as-is; nothing is retried.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: %s request failed: %v", e.Provider, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("llm: %s api error (%d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("llm: %s api error (%d): %s", e.Provider, e.Status, http.StatusText(e.Status))
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Generator is the gateway contract consumers depend on.
type Generator interface {
	Generate(ctx context.Context, model, systemPrompt, userPrompt string, history []Message, settings Settings) (string, error)
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Gateway dispatches generate calls to a provider family selected by the
// model-name prefix.
type Gateway struct {
	openai    *openAIProvider
	anthropic *anthropicProvider
	logger    *zap.Logger
}

func NewGateway(openAICfg, anthropicCfg utils.ProviderConfig, timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &http.Client{Timeout: timeout}

	return &Gateway{
		openai:    &openAIProvider{baseURL: strings.TrimRight(openAICfg.BaseURL, "/"), apiKey: openAICfg.APIKey, client: client},
		anthropic: &anthropicProvider{baseURL: strings.TrimRight(anthropicCfg.BaseURL, "/"), apiKey: anthropicCfg.APIKey, client: client},
		logger:    logger,
	}
}

// Generate forwards one completion request to the provider family matching
// the model prefix and returns the completion text.
func (g *Gateway) Generate(ctx context.Context, model, systemPrompt, userPrompt string, history []Message, settings Settings) (string, error) {
	model = strings.TrimSpace(model)

	var (
		text string
		err  error
	)

	switch {
	case strings.HasPrefix(model, "gpt-"):
		text, err = g.openai.generate(ctx, model, systemPrompt, userPrompt, history, settings)
	case strings.HasPrefix(model, "claude-"):
		text, err = g.anthropic.generate(ctx, model, systemPrompt, userPrompt, history, settings)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}

	if err != nil {
		g.logger.Warn("llm generate failed", zap.String("model", model), zap.Error(err))
		return "", err
	}

	return text, nil
}

// buildMessages assembles the upstream sequence: system prompt first, then
// the prior history in order, then the new user message.
func buildMessages(systemPrompt string, history []Message, userPrompt string) []Message {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userPrompt})
	return messages
}

type apiError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type apiErrorEnvelope struct {
	Error *apiError `json:"error,omitempty"`
}

// newUpstreamError turns a non-2xx provider response into an UpstreamError,
// pulling the provider's own message out of the body when it has one.
func newUpstreamError(provider string, statusCode int, body []byte) error {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		if msg := strings.TrimSpace(envelope.Error.Message); msg != "" {
			return &UpstreamError{Provider: provider, Status: statusCode, Message: msg}
		}
	}

	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	return &UpstreamError{Provider: provider, Status: statusCode, Message: snippet}
}
