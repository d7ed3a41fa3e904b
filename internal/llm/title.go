package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	titleModel       = "gpt-3.5-turbo"
	titleInstruction = "You are a helpful assistant that generates short, concise titles for conversations. " +
		"Please provide a title of 5 words or less based on the following conversation:"
)

// TitleSynthesizer produces a short conversation title with one auxiliary
// gateway call. The completion is trimmed but otherwise accepted verbatim;
// the length limit lives in the instruction only.
type TitleSynthesizer struct {
	gateway Generator
}

func NewTitleSynthesizer(gateway Generator) *TitleSynthesizer {
	return &TitleSynthesizer{gateway: gateway}
}

func (t *TitleSynthesizer) Synthesize(ctx context.Context, messages []Message) (string, error) {
	var builder strings.Builder
	for _, msg := range messages {
		builder.WriteString(msg.Role)
		builder.WriteString(": ")
		builder.WriteString(msg.Content)
		builder.WriteString("\n")
	}

	userPrompt := "Generate a title for this conversation:\n" + strings.TrimRight(builder.String(), "\n")

	settings := Settings{Temperature: 0.7, MaxTokens: 20, TopP: 1}

	title, err := t.gateway.Generate(ctx, titleModel, titleInstruction, userPrompt, nil, settings)
	if err != nil {
		return "", fmt.Errorf("llm: synthesize title: %w", err)
	}

	return strings.TrimSpace(title), nil
}
