package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

const autoTitleRunes = 20

// Titler produces a short title for a conversation.
type Titler interface {
	GenerateTitle(ctx context.Context, history []domain.Message, model string) string
}

// ConversationService manages conversations and their messages. Conversations with an
// owner are only visible to that owner; ownerless conversations are shared.
type ConversationService struct {
	store  port.ConversationStore
	titler Titler
	now    func() time.Time
}

// NewConversationService creates the conversation service.
func NewConversationService(store port.ConversationStore, titler Titler) *ConversationService {
	return &ConversationService{store: store, titler: titler, now: time.Now}
}

// Create starts a conversation titled "New Conversation".
func (s *ConversationService) Create(ctx context.Context, owner string) (*domain.Conversation, error) {
	now := s.now().UTC()
	c := &domain.Conversation{
		Title:       domain.DefaultConversationTitle,
		Owner:       owner,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// List returns the owner's conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context, owner string) ([]domain.Conversation, error) {
	return s.store.ListConversations(ctx, owner)
}

// Get returns a conversation visible to owner.
func (s *ConversationService) Get(ctx context.Context, owner, id string) (*domain.Conversation, error) {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Owner != "" && c.Owner != owner {
		return nil, fmt.Errorf("conversation %s: %w", id, port.ErrNotFound)
	}
	return c, nil
}

// Messages returns the conversation's messages in timestamp order.
func (s *ConversationService) Messages(ctx context.Context, owner, id string) ([]domain.Message, error) {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

// History is Messages without the ownership check failure: an unknown or foreign
// conversation has no history.
func (s *ConversationService) History(ctx context.Context, owner, id string) []domain.Message {
	if id == "" {
		return nil
	}
	msgs, err := s.Messages(ctx, owner, id)
	if err != nil {
		slog.Warn("conversation history unavailable", "conversation_id", id, "error", err)
		return nil
	}
	return msgs
}

// Rename sets the conversation title.
func (s *ConversationService) Rename(ctx context.Context, owner, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("rename conversation: empty title")
	}
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}
	return s.store.UpdateConversationTitle(ctx, id, title)
}

// Delete removes the conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, owner, id string) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, id)
}

// AddMessage stores a message and bumps last_updated. The first user message of a
// conversation still carrying the default title becomes its title.
func (s *ConversationService) AddMessage(ctx context.Context, owner string, m *domain.Message) error {
	c, err := s.Get(ctx, owner, m.ConversationID)
	if err != nil {
		return err
	}
	if m.Sender == "" {
		m.Sender = "user"
	}
	m.Timestamp = s.now().UTC()
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, c.ID, m.Timestamp); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if m.Sender == "user" && c.Title == domain.DefaultConversationTitle {
		if err := s.store.UpdateConversationTitle(ctx, c.ID, AutoTitle(m.Content)); err != nil {
			slog.Warn("auto-title failed", "conversation_id", c.ID, "error", err)
		}
	}
	return nil
}

// GenerateTitle asks the model to title the conversation and stores the result.
func (s *ConversationService) GenerateTitle(ctx context.Context, owner, id, model string) (string, error) {
	msgs, err := s.Messages(ctx, owner, id)
	if err != nil {
		return "", err
	}
	title := s.titler.GenerateTitle(ctx, msgs, model)
	if err := s.store.UpdateConversationTitle(ctx, id, title); err != nil {
		return "", fmt.Errorf("update title: %w", err)
	}
	return title, nil
}

// AutoTitle is the first 20 runes of the message followed by "..." when it is longer.
func AutoTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	r := []rune(content)
	if len(r) <= autoTitleRunes {
		if content == "" {
			return domain.DefaultConversationTitle
		}
		return content
	}
	return string(r[:autoTitleRunes]) + "..."
}
