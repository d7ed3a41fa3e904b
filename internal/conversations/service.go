package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mkarlin/llm-playground/internal/llm"
	"github.com/mkarlin/llm-playground/internal/models"
)

// ErrNoMessages rejects a save with an empty message list.
var ErrNoMessages = errors.New("conversations: no messages provided")

// Store is the persistence surface the service needs. The pgx-backed
// implementation lives in internal/store.
type Store interface {
	ListByUser(ctx context.Context, userID string) ([]models.Conversation, error)
	Create(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	AppendMessage(ctx context.Context, userID, conversationID string, msg models.Message) (models.Message, error)
	Delete(ctx context.Context, userID, conversationID string) error
	Fork(ctx context.Context, userID, conversationID string, forkIndex int) (models.Conversation, error)
}

// Titler synthesizes a title for a new conversation.
type Titler interface {
	Synthesize(ctx context.Context, messages []llm.Message) (string, error)
}

// Service implements the conversation save/fork/delete flows on top of the
// store, resolving titles before anything is persisted.
type Service struct {
	store  Store
	titler Titler
	logger *zap.Logger
}

func NewService(store Store, titler Titler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, titler: titler, logger: logger}
}

func (s *Service) List(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.store.ListByUser(ctx, userID)
}

// Save persists a new conversation. A blank caller title triggers one title
// synthesis call before the transactional insert; the insert itself is
// all-or-nothing.
func (s *Service) Save(ctx context.Context, userID string, messages []models.Message, title string) (models.Conversation, error) {
	if len(messages) == 0 {
		return models.Conversation{}, ErrNoMessages
	}

	title = strings.TrimSpace(title)
	if title == "" {
		synthesized, err := s.titler.Synthesize(ctx, toLLMMessages(messages))
		if err != nil {
			return models.Conversation{}, fmt.Errorf("conversations: generate title: %w", err)
		}
		title = synthesized
	}

	conv, err := s.store.Create(ctx, models.Conversation{
		Title:    title,
		UserID:   userID,
		Messages: messages,
	})
	if err != nil {
		return models.Conversation{}, err
	}

	s.logger.Info("conversation saved",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID),
		zap.Int("messages", len(conv.Messages)))

	return conv, nil
}

func (s *Service) Append(ctx context.Context, userID, conversationID string, msg models.Message) (models.Message, error) {
	return s.store.AppendMessage(ctx, userID, conversationID, msg)
}

func (s *Service) Delete(ctx context.Context, userID, conversationID string) error {
	if err := s.store.Delete(ctx, userID, conversationID); err != nil {
		return err
	}

	s.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID))

	return nil
}

// Fork copies the source conversation up to and including forkIndex into a
// new conversation owned by the caller. The source owner is intentionally
// not checked; see DESIGN.md.
func (s *Service) Fork(ctx context.Context, userID, conversationID string, forkIndex int) (models.Conversation, error) {
	fork, err := s.store.Fork(ctx, userID, conversationID, forkIndex)
	if err != nil {
		return models.Conversation{}, err
	}

	s.logger.Info("conversation forked",
		zap.String("source_id", conversationID),
		zap.String("conversation_id", fork.ID),
		zap.String("user_id", userID),
		zap.Int("fork_index", forkIndex))

	return fork, nil
}

func toLLMMessages(messages []models.Message) []llm.Message {
	result := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		result = append(result, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return result
}
