package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlin/llm-playground/internal/models"
)

var (
	ErrConversationNotFound = errors.New("store: conversation not found")
	ErrMessageNotFound      = errors.New("store: message not found")
)

// Conversations persists conversations and their ordered messages. Every
// multi-row mutation runs in a single transaction so a mid-sequence failure
// leaves nothing behind.
type Conversations struct {
	pool *pgxpool.Pool
}

func NewConversations(pool *pgxpool.Pool) *Conversations {
	return &Conversations{pool: pool}
}

// ListByUser returns every conversation owned by userID, each with its
// messages in insertion order.
func (s *Conversations) ListByUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	const query = `SELECT id, title, user_id, created_at FROM conversations WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.UserID, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate conversations: %w", err)
	}

	for i := range conversations {
		messages, err := s.messagesFor(ctx, conversations[i].ID)
		if err != nil {
			return nil, err
		}
		conversations[i].Messages = messages
	}

	return conversations, nil
}

// Create inserts the conversation and all of its messages atomically.
func (s *Conversations) Create(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("store: begin create conversation: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertConv = `INSERT INTO conversations (id, title, user_id, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertConv, conv.ID, conv.Title, conv.UserID, conv.CreatedAt); err != nil {
		return models.Conversation{}, fmt.Errorf("store: insert conversation: %w", err)
	}

	for i := range conv.Messages {
		msg, err := insertMessage(ctx, tx, conv.ID, conv.Messages[i])
		if err != nil {
			return models.Conversation{}, err
		}
		conv.Messages[i] = msg
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Conversation{}, fmt.Errorf("store: commit create conversation: %w", err)
	}

	return conv, nil
}

// AppendMessage adds one message to a conversation owned by userID.
func (s *Conversations) AppendMessage(ctx context.Context, userID, conversationID string, msg models.Message) (models.Message, error) {
	owned, err := s.ownedBy(ctx, conversationID, userID)
	if err != nil {
		return models.Message{}, err
	}
	if !owned {
		return models.Message{}, ErrConversationNotFound
	}

	return insertMessage(ctx, s.pool, conversationID, msg)
}

// Get fetches a conversation by id regardless of owner. Fork reads the
// source conversation through this path.
func (s *Conversations) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	const query = `SELECT id, title, user_id, created_at FROM conversations WHERE id = $1`

	var conv models.Conversation
	err := s.pool.QueryRow(ctx, query, conversationID).Scan(&conv.ID, &conv.Title, &conv.UserID, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query conversation: %w", err)
	}

	conv.Messages, err = s.messagesFor(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

// GetMessage fetches one message by id.
func (s *Conversations) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	const query = `SELECT id, seq, role, content, model, conversation_id FROM messages WHERE id = $1`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, messageID).Scan(&msg.ID, &msg.Seq, &msg.Role, &msg.Content, &msg.Model, &msg.ConversationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query message: %w", err)
	}

	return &msg, nil
}

// Delete removes a conversation owned by userID together with all of its
// messages. Children go first so the foreign key holds throughout.
func (s *Conversations) Delete(ctx context.Context, userID, conversationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin delete conversation: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `SELECT 1 FROM conversations WHERE id = $1 AND user_id = $2 FOR UPDATE`
	var one int
	err = tx.QueryRow(ctx, query, conversationID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("store: lock conversation: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("store: delete messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit delete conversation: %w", err)
	}

	return nil
}

// Fork copies the messages at positions 0..forkIndex of the source
// conversation into a new conversation owned by userID. The copies get fresh
// ids; the source is untouched.
func (s *Conversations) Fork(ctx context.Context, userID, conversationID string, forkIndex int) (models.Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("store: begin fork conversation: %w", err)
	}
	defer tx.Rollback(ctx)

	const sourceQuery = `SELECT title FROM conversations WHERE id = $1`
	var sourceTitle string
	err = tx.QueryRow(ctx, sourceQuery, conversationID).Scan(&sourceTitle)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("store: query fork source: %w", err)
	}

	const messagesQuery = `SELECT role, content, model FROM messages WHERE conversation_id = $1 ORDER BY seq LIMIT $2`
	rows, err := tx.Query(ctx, messagesQuery, conversationID, forkIndex+1)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("store: query fork messages: %w", err)
	}

	copied := make([]models.Message, 0, forkIndex+1)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Model); err != nil {
			rows.Close()
			return models.Conversation{}, fmt.Errorf("store: scan fork message: %w", err)
		}
		copied = append(copied, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.Conversation{}, fmt.Errorf("store: iterate fork messages: %w", err)
	}

	fork := models.Conversation{
		ID:        uuid.NewString(),
		Title:     "Fork of: " + sourceTitle,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	const insertConv = `INSERT INTO conversations (id, title, user_id, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertConv, fork.ID, fork.Title, fork.UserID, fork.CreatedAt); err != nil {
		return models.Conversation{}, fmt.Errorf("store: insert fork: %w", err)
	}

	for _, msg := range copied {
		inserted, err := insertMessage(ctx, tx, fork.ID, msg)
		if err != nil {
			return models.Conversation{}, err
		}
		fork.Messages = append(fork.Messages, inserted)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Conversation{}, fmt.Errorf("store: commit fork: %w", err)
	}

	return fork, nil
}

func (s *Conversations) messagesFor(ctx context.Context, conversationID string) ([]models.Message, error) {
	const query = `SELECT id, seq, role, content, model, conversation_id FROM messages WHERE conversation_id = $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.Seq, &msg.Role, &msg.Content, &msg.Model, &msg.ConversationID); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}

	return messages, nil
}

func (s *Conversations) ownedBy(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `SELECT 1 FROM conversations WHERE id = $1 AND user_id = $2`

	var one int
	err := s.pool.QueryRow(ctx, query, conversationID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check conversation owner: %w", err)
	}

	return true, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertMessage(ctx context.Context, q rowQuerier, conversationID string, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID

	const query = `INSERT INTO messages (id, role, content, model, conversation_id) VALUES ($1, $2, $3, $4, $5) RETURNING seq`
	if err := q.QueryRow(ctx, query, msg.ID, msg.Role, msg.Content, msg.Model, msg.ConversationID).Scan(&msg.Seq); err != nil {
		return models.Message{}, fmt.Errorf("store: insert message: %w", err)
	}

	return msg, nil
}
