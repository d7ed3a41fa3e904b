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

const openAIProviderName = "openai"

// openAIProvider speaks the OpenAI chat completions shape (family of models
// with the "gpt-" prefix). All five generation settings are forwarded.
type openAIProvider struct {
	baseURL string
	apiKey  string
	client  httpDoer
}

type openAIRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
}

type openAIChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Error   *apiError      `json:"error,omitempty"`
}

func (p *openAIProvider) generate(ctx context.Context, model, systemPrompt, userPrompt string, history []Message, settings Settings) (string, error) {
	payload := openAIRequest{
		Model:            model,
		Messages:         buildMessages(systemPrompt, history, userPrompt),
		MaxTokens:        settings.MaxTokens,
		Temperature:      settings.Temperature,
		TopP:             settings.TopP,
		FrequencyPenalty: settings.FrequencyPenalty,
		PresencePenalty:  settings.PresencePenalty,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm: marshal openai payload: %w", err)
	}

	endpoint := p.baseURL + "/chat/completions"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create openai request: %w", err)
	}

	request.Header.Set("Authorization", "Bearer "+p.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := p.client.Do(request)
	if err != nil {
		return "", &UpstreamError{Provider: openAIProviderName, Err: err}
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", &UpstreamError{Provider: openAIProviderName, Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", newUpstreamError(openAIProviderName, response.StatusCode, respBody)
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &UpstreamError{Provider: openAIProviderName, Err: fmt.Errorf("decode response: %w", err)}
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", &UpstreamError{Provider: openAIProviderName, Status: response.StatusCode, Message: apiResp.Error.Message}
	}

	if len(apiResp.Choices) == 0 {
		return "", &UpstreamError{Provider: openAIProviderName, Status: response.StatusCode, Message: "response contained no choices"}
	}

	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}
