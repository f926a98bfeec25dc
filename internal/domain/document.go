package domain

import "time"

// Document is an uploaded file whose extracted text has been split into chunks.
type Document struct {
	ID             string    `json:"id"              db:"id"`
	Filename       string    `json:"filename"        db:"filename"`
	Owner          string    `json:"owner"           db:"owner"`
	Content        string    `json:"content"         db:"content"`
	ContentType    string    `json:"content_type"    db:"content_type"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"      db:"expires_at"`
	ChunkCount     int       `json:"chunk_count"     db:"chunk_count"`
}

// Expired reports whether the document is past its expiry at the given instant.
func (d Document) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && d.ExpiresAt.Before(now)
}

// DocumentChunk is addressed by (DocumentID, ChunkIndex). Embedding is nil until the
// background embedding step fills it.
type DocumentChunk struct {
	DocumentID string    `json:"document_id" db:"document_id"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Content    string    `json:"content"     db:"content"`
	Embedding  []float32 `json:"-"           db:"embedding"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// HasEmbedding reports whether the chunk has been embedded.
func (c DocumentChunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// RetrievedChunk is a chunk scored against a query embedding.
type RetrievedChunk struct {
	DocumentChunk
	Similarity float64 `json:"similarity"`
}
