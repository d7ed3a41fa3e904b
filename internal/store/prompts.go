package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlin/llm-playground/internal/models"
)

var ErrPromptNotFound = errors.New("store: prompt not found")

// Prompts persists saved prompt templates.
type Prompts struct {
	pool *pgxpool.Pool
}

func NewPrompts(pool *pgxpool.Pool) *Prompts {
	return &Prompts{pool: pool}
}

func (s *Prompts) ListByUser(ctx context.Context, userID string) ([]models.Prompt, error) {
	const query = `SELECT id, name, system_prompt, user_prompt, user_id FROM prompts WHERE user_id = $1 ORDER BY name, id`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]models.Prompt, 0)
	for rows.Next() {
		var prompt models.Prompt
		if err := rows.Scan(&prompt.ID, &prompt.Name, &prompt.SystemPrompt, &prompt.UserPrompt, &prompt.UserID); err != nil {
			return nil, fmt.Errorf("store: scan prompt: %w", err)
		}
		prompts = append(prompts, prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate prompts: %w", err)
	}

	return prompts, nil
}

func (s *Prompts) Create(ctx context.Context, prompt models.Prompt) (models.Prompt, error) {
	if prompt.ID == "" {
		prompt.ID = uuid.NewString()
	}

	const query = `INSERT INTO prompts (id, name, system_prompt, user_prompt, user_id) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, prompt.ID, prompt.Name, prompt.SystemPrompt, prompt.UserPrompt, prompt.UserID); err != nil {
		return models.Prompt{}, fmt.Errorf("store: insert prompt: %w", err)
	}

	return prompt, nil
}

// Delete removes a prompt owned by userID.
func (s *Prompts) Delete(ctx context.Context, userID, promptID string) error {
	const query = `DELETE FROM prompts WHERE id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, query, promptID, userID)
	if err != nil {
		return fmt.Errorf("store: delete prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPromptNotFound
	}

	return nil
}
