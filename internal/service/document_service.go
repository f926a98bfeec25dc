package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// Chunking parameters, in runes.
const (
	ChunkSize    = 1000
	ChunkOverlap = 200
)

// DefaultDocumentTTL is how long an uploaded document is kept.
const DefaultDocumentTTL = 24 * time.Hour

// UploadInput is a file received from a client.
type UploadInput struct {
	Filename       string
	ContentType    string
	Data           []byte
	Owner          string
	ConversationID string
}

// DocumentService ingests, lists and expires uploaded documents.
type DocumentService struct {
	store     port.DocumentStore
	extractor port.TextExtractor
	queue     *EmbeddingQueue
	ttl       time.Duration
	maxBytes  int64
	now       func() time.Time
}

// NewDocumentService creates the document service. queue may be nil, in which case chunks
// stay without embeddings and retrieval relies on the raw-chunk fallback.
func NewDocumentService(store port.DocumentStore, extractor port.TextExtractor, queue *EmbeddingQueue, ttl time.Duration, maxBytes int64) *DocumentService {
	if ttl <= 0 {
		ttl = DefaultDocumentTTL
	}
	return &DocumentService{
		store:     store,
		extractor: extractor,
		queue:     queue,
		ttl:       ttl,
		maxBytes:  maxBytes,
		now:       time.Now,
	}
}

// Upload extracts the file's text and ingests it.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*domain.Document, error) {
	if in.Filename == "" {
		return nil, fmt.Errorf("%w: no filename provided", port.ErrUnsupportedFile)
	}
	if s.maxBytes > 0 && int64(len(in.Data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: max %d MB", port.ErrFileTooLarge, s.maxBytes>>20)
	}
	if !s.extractor.Supports(in.Filename) {
		return nil, fmt.Errorf("%w: %s", port.ErrUnsupportedFile, in.Filename)
	}

	text, err := s.extractor.Extract(in.Filename, in.Data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", in.Filename, err)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.Ingest(ctx, &domain.Document{
		Filename:       in.Filename,
		Owner:          in.Owner,
		ContentType:    contentType,
		ConversationID: in.ConversationID,
	}, text)
}

// Ingest splits text into chunks, stores the document with chunks lacking embeddings and
// queues the embedding job.
func (s *DocumentService) Ingest(ctx context.Context, doc *domain.Document, text string) (*domain.Document, error) {
	now := s.now().UTC()
	doc.Content = text
	doc.CreatedAt = now
	doc.ExpiresAt = now.Add(s.ttl)

	parts := SplitText(text, ChunkSize, ChunkOverlap)
	chunks := make([]domain.DocumentChunk, len(parts))
	for i, p := range parts {
		chunks[i] = domain.DocumentChunk{ChunkIndex: i, Content: p, CreatedAt: now}
	}

	if err := s.store.InsertDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	slog.Info("document ingested", "document_id", doc.ID, "filename", doc.Filename, "chunks", doc.ChunkCount, "owner", doc.Owner)

	if s.queue != nil && len(chunks) > 0 {
		if _, err := s.queue.Enqueue(doc.ID, len(chunks)); err != nil {
			slog.Warn("embedding job not queued", "document_id", doc.ID, "error", err)
		}
	}
	return doc, nil
}

// Attach links an existing document to a conversation.
func (s *DocumentService) Attach(ctx context.Context, owner, id, conversationID, filename, contentType string) error {
	if _, err := s.owned(ctx, owner, id); err != nil {
		return err
	}
	if err := s.store.AttachDocument(ctx, id, conversationID, filename, contentType); err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	return nil
}

// List returns the owner's documents, newest first, optionally for one conversation.
func (s *DocumentService) List(ctx context.Context, owner, conversationID string) ([]domain.Document, error) {
	filter := port.DocumentFilter{Owner: owner, ConversationID: conversationID}
	if filter.Empty() {
		return []domain.Document{}, nil
	}
	docs, err := s.store.FindDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	return docs, nil
}

// Delete removes a document and its chunks. Documents of other owners look missing.
func (s *DocumentService) Delete(ctx context.Context, owner, id string) error {
	if _, err := s.owned(ctx, owner, id); err != nil {
		return err
	}
	n, err := s.store.DeleteDocuments(ctx, port.DocumentFilter{IDs: []string{id}})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	if s.queue != nil {
		s.queue.Forget(id)
	}
	return nil
}

// EmbeddingStatus returns the embedding job of an owned document.
func (s *DocumentService) EmbeddingStatus(ctx context.Context, owner, id string) (domain.EmbeddingJob, error) {
	doc, err := s.owned(ctx, owner, id)
	if err != nil {
		return domain.EmbeddingJob{}, err
	}
	if s.queue != nil {
		if job, ok := s.queue.Status(id); ok {
			return job, nil
		}
	}
	// No job in memory (restart or no queue): report what the store holds.
	chunks, err := s.store.FindChunks(ctx, port.ChunkFilter{DocumentIDs: []string{id}, EmbeddedOnly: true})
	if err != nil {
		return domain.EmbeddingJob{}, fmt.Errorf("find chunks: %w", err)
	}
	status := domain.JobPending
	if len(chunks) == doc.ChunkCount {
		status = domain.JobComplete
	}
	return domain.EmbeddingJob{DocumentID: id, Status: status, Progress: len(chunks), Total: doc.ChunkCount, StartedAt: doc.CreatedAt}, nil
}

// Queue exposes the embedding queue for progress subscriptions.
func (s *DocumentService) Queue() *EmbeddingQueue { return s.queue }

// Cleanup deletes every document past its expiry.
func (s *DocumentService) Cleanup(ctx context.Context) (int, error) {
	n, err := s.store.DeleteDocuments(ctx, port.DocumentFilter{ExpiredBefore: s.now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("delete expired documents: %w", err)
	}
	return n, nil
}

// RunSweeper calls Cleanup every interval until ctx is cancelled.
func (s *DocumentService) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	slog.Info("🧹 Document sweeper started", "every", every, "ttl", s.ttl)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Cleanup(ctx)
			if err != nil {
				slog.Error("document sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired documents deleted", "count", n)
			}
		}
	}
}

func (s *DocumentService) owned(ctx context.Context, owner, id string) (*domain.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc.Owner != "" && doc.Owner != owner {
		return nil, fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	return doc, nil
}

// SplitText splits on blank-line paragraph boundaries into chunks of at most size runes.
// Each new chunk starts with the last overlap runes of the previous one. Paragraphs longer
// than size are cut into size-rune pieces first.
func SplitText(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	var current []rune
	flush := func() {
		if c := strings.TrimSpace(string(current)); c != "" {
			chunks = append(chunks, c)
		}
	}

	for _, paragraph := range paragraphs(text, size) {
		p := []rune(paragraph)
		if len(current) > 0 && len(current)+len(p)+2 > size {
			flush()
			tail := current
			if len(tail) > overlap {
				tail = tail[len(tail)-overlap:]
			}
			current = append([]rune(nil), tail...)
			if len(current)+len(p)+2 > size {
				// The overlap alone would overflow this paragraph's chunk.
				current = current[:0]
			}
		}
		if len(current) > 0 {
			current = append(current, '\n', '\n')
		}
		current = append(current, p...)
	}
	flush()
	return chunks
}

// paragraphs splits on blank lines and cuts paragraphs longer than size runes.
func paragraphs(text string, size int) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		r := []rune(p)
		for len(r) > size {
			out = append(out, string(r[:size]))
			r = r[size:]
		}
		out = append(out, string(r))
	}
	return out
}
