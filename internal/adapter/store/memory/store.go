// Package memory is an in-process implementation of the store ports, used for tests
// and for STORE_DRIVER=memory development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

type chunkKey struct {
	documentID string
	chunkIndex int
}

// Store keeps documents, chunks, conversations, messages and audit logs in maps.
type Store struct {
	mu            sync.RWMutex
	documents     map[string]domain.Document
	chunks        map[chunkKey]domain.DocumentChunk
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message
	audit         []domain.AuditLog
}

var (
	_ port.DocumentStore     = (*Store)(nil)
	_ port.ConversationStore = (*Store)(nil)
	_ port.AuditStore        = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		documents:     make(map[string]domain.Document),
		chunks:        make(map[chunkKey]domain.DocumentChunk),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

// --- Documents ---

// InsertDocument stores the document and its chunks.
func (s *Store) InsertDocument(ctx context.Context, doc *domain.Document, chunks []domain.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.ChunkCount = len(chunks)
	s.documents[doc.ID] = *doc

	for _, c := range chunks {
		c.DocumentID = doc.ID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = doc.CreatedAt
		}
		c.Embedding = cloneVector(c.Embedding)
		s.chunks[chunkKey{doc.ID, c.ChunkIndex}] = c
	}
	return nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	return &d, nil
}

// FindDocuments returns matching documents, newest first.
func (s *Store) FindDocuments(ctx context.Context, filter port.DocumentFilter) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Document
	for _, d := range s.documents {
		if matchDocument(d, filter) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// FindChunks returns chunks of the given documents ordered by document then chunk_index.
func (s *Store) FindChunks(ctx context.Context, filter port.ChunkFilter) ([]domain.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DocumentChunk
	for _, id := range filter.DocumentIDs {
		var doc []domain.DocumentChunk
		for k, c := range s.chunks {
			if k.documentID != id || (filter.EmbeddedOnly && !c.HasEmbedding()) {
				continue
			}
			c.Embedding = cloneVector(c.Embedding)
			doc = append(doc, c)
		}
		sort.Slice(doc, func(i, j int) bool { return doc[i].ChunkIndex < doc[j].ChunkIndex })
		if filter.Limit > 0 && len(doc) > filter.Limit {
			doc = doc[:filter.Limit]
		}
		out = append(out, doc...)
	}
	return out, nil
}

// SetChunkEmbedding fills a chunk's embedding only while it is absent.
func (s *Store) SetChunkEmbedding(ctx context.Context, documentID string, chunkIndex int, embedding []float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := chunkKey{documentID, chunkIndex}
	c, ok := s.chunks[k]
	if !ok || c.HasEmbedding() {
		return false, nil
	}
	c.Embedding = cloneVector(embedding)
	s.chunks[k] = c
	return true, nil
}

// AttachDocument updates the conversation link and display metadata of a document.
func (s *Store) AttachDocument(ctx context.Context, id, conversationID, filename, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	d.ConversationID = conversationID
	if filename != "" {
		d.Filename = filename
	}
	if contentType != "" {
		d.ContentType = contentType
	}
	s.documents[id] = d
	return nil
}

// DeleteDocuments removes matching documents and their chunks.
func (s *Store) DeleteDocuments(ctx context.Context, filter port.DocumentFilter) (int, error) {
	if filter.Empty() {
		return 0, port.ErrEmptyFilter
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, d := range s.documents {
		if !matchDocument(d, filter) {
			continue
		}
		delete(s.documents, id)
		for k := range s.chunks {
			if k.documentID == id {
				delete(s.chunks, k)
			}
		}
		deleted++
	}
	return deleted, nil
}

func matchDocument(d domain.Document, f port.DocumentFilter) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, d.ID) {
		return false
	}
	if f.Owner != "" && d.Owner != f.Owner {
		return false
	}
	if f.ConversationID != "" && d.ConversationID != f.ConversationID {
		return false
	}
	if !f.ExpiredBefore.IsZero() && !d.ExpiresAt.Before(f.ExpiredBefore) {
		return false
	}
	return true
}

// --- Conversations ---

// CreateConversation stores a new conversation.
func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastUpdated.IsZero() {
		c.LastUpdated = c.CreatedAt
	}
	s.conversations[c.ID] = *c
	return nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, port.ErrNotFound)
	}
	return &c, nil
}

// ListConversations returns conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, owner string) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Conversation
	for _, c := range s.conversations {
		if owner == "" || c.Owner == owner {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

// UpdateConversationTitle renames a conversation.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, port.ErrNotFound)
	}
	c.Title = title
	s.conversations[id] = c
	return nil
}

// TouchConversation sets last_updated.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, port.ErrNotFound)
	}
	c.LastUpdated = at
	s.conversations[id] = c
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, port.ErrNotFound)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// InsertMessage appends a message to its conversation.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

// ListMessages returns a conversation's messages in timestamp order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]domain.Message(nil), s.messages[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- Audit Logs ---

// WriteAudit records an audit entry.
func (s *Store) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, domain.AuditLog{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

// ListAuditLogs returns the newest audit entries first.
func (s *Store) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		if action != "" && s.audit[i].Action != action {
			continue
		}
		out = append(out, s.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	return append([]float32(nil), v...)
}
