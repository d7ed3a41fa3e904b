package models

// Prompt is a saved, reusable (system prompt, user prompt) pair.
type Prompt struct {
	ID           string
	Name         string
	SystemPrompt string
	UserPrompt   string
	UserID       string
}
