package port

import (
	"context"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
)

// DocumentFilter selects documents by equality on owner and conversation, by id, or by
// expiry range. Zero fields do not constrain the match.
type DocumentFilter struct {
	IDs            []string
	Owner          string
	ConversationID string
	ExpiredBefore  time.Time
}

// Empty reports whether the filter matches every document.
func (f DocumentFilter) Empty() bool {
	return len(f.IDs) == 0 && f.Owner == "" && f.ConversationID == "" && f.ExpiredBefore.IsZero()
}

// ChunkFilter selects chunks of the given documents, ordered by document then chunk_index.
type ChunkFilter struct {
	DocumentIDs  []string
	EmbeddedOnly bool
	Limit        int // per document, 0 = all
}

// DocumentStore persists documents and their chunks.
type DocumentStore interface {
	// InsertDocument stores the document and its chunks atomically. ChunkCount is set to len(chunks).
	InsertDocument(ctx context.Context, doc *domain.Document, chunks []domain.DocumentChunk) error

	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// FindDocuments returns matching documents, newest first.
	FindDocuments(ctx context.Context, filter DocumentFilter) ([]domain.Document, error)

	FindChunks(ctx context.Context, filter ChunkFilter) ([]domain.DocumentChunk, error)

	// SetChunkEmbedding fills the embedding of one chunk if it is still absent.
	// It reports whether a chunk was updated.
	SetChunkEmbedding(ctx context.Context, documentID string, chunkIndex int, embedding []float32) (bool, error)

	// AttachDocument links an uploaded document to a conversation and records its
	// display filename and content type.
	AttachDocument(ctx context.Context, id, conversationID, filename, contentType string) error

	// DeleteDocuments removes matching documents and cascades to their chunks.
	DeleteDocuments(ctx context.Context, filter DocumentFilter) (int, error)
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns conversations newest last_updated first. An empty owner lists all.
	ListConversations(ctx context.Context, owner string) ([]domain.Conversation, error)

	UpdateConversationTitle(ctx context.Context, id, title string) error
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// DeleteConversation removes the conversation and cascades to its messages.
	DeleteConversation(ctx context.Context, id string) error

	InsertMessage(ctx context.Context, m *domain.Message) error

	// ListMessages returns the conversation's messages in timestamp order.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// AuditStore persists request audit records.
type AuditStore interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
}

// TextExtractor turns an uploaded file into plain text.
type TextExtractor interface {
	// Supports reports whether the extractor handles the file name's extension.
	Supports(filename string) bool

	Extract(filename string, data []byte) (string, error)
}
