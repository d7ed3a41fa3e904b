package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicProviderName = "anthropic"
	anthropicVersion      = "2023-06-01"
)

// anthropicProvider speaks the Anthropic messages shape (models with the
// "claude-" prefix). The system prompt travels as a top-level field and the
// repetition penalties are not part of this family's API, so they are never
// sent.
type anthropicProvider struct {
	baseURL string
	apiKey  string
	client  httpDoer
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Content []anthropicContent `json:"content"`
	Error   *apiError          `json:"error,omitempty"`
}

func (p *anthropicProvider) generate(ctx context.Context, model, systemPrompt, userPrompt string, history []Message, settings Settings) (string, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	payload := anthropicRequest{
		Model:       model,
		System:      systemPrompt,
		Messages:    messages,
		MaxTokens:   settings.MaxTokens,
		Temperature: settings.Temperature,
		TopP:        settings.TopP,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm: marshal anthropic payload: %w", err)
	}

	endpoint := p.baseURL + "/messages"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create anthropic request: %w", err)
	}

	request.Header.Set("x-api-key", p.apiKey)
	request.Header.Set("anthropic-version", anthropicVersion)
	request.Header.Set("Content-Type", "application/json")

	response, err := p.client.Do(request)
	if err != nil {
		return "", &UpstreamError{Provider: anthropicProviderName, Err: err}
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", &UpstreamError{Provider: anthropicProviderName, Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", newUpstreamError(anthropicProviderName, response.StatusCode, respBody)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &UpstreamError{Provider: anthropicProviderName, Err: fmt.Errorf("decode response: %w", err)}
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", &UpstreamError{Provider: anthropicProviderName, Status: response.StatusCode, Message: apiResp.Error.Message}
	}

	if len(apiResp.Content) == 0 {
		return "", &UpstreamError{Provider: anthropicProviderName, Status: response.StatusCode, Message: "response contained no content"}
	}

	return strings.TrimSpace(apiResp.Content[0].Text), nil
}
