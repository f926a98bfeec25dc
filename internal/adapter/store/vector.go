package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

const documentColumns = `id, filename, owner, content, content_type, conversation_id, created_at, expires_at, chunk_count`

// --- Documents ---

// InsertDocument stores a document and its chunks in one transaction. Chunk embeddings are
// written when present, NULL otherwise.
func (s *PostgresStore) InsertDocument(ctx context.Context, doc *domain.Document, chunks []domain.DocumentChunk) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.ChunkCount = len(chunks)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.Filename, doc.Owner, doc.Content, doc.ContentType, doc.ConversationID,
		doc.CreatedAt, doc.ExpiresAt, doc.ChunkCount,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO document_chunks (document_id, chunk_index, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			createdAt := c.CreatedAt
			if createdAt.IsZero() {
				createdAt = doc.CreatedAt
			}
			if _, err := stmt.ExecContext(ctx, doc.ID, c.ChunkIndex, c.Content, nullableVector(c.Embedding), createdAt); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
	}

	return tx.Commit()
}

// GetDocument retrieves a document by id.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// FindDocuments returns matching documents, newest first.
func (s *PostgresStore) FindDocuments(ctx context.Context, filter port.DocumentFilter) ([]domain.Document, error) {
	where, args := documentWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents`+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// AttachDocument links a document to a conversation.
func (s *PostgresStore) AttachDocument(ctx context.Context, id, conversationID, filename, contentType string) error {
	query := `UPDATE documents SET
	              conversation_id = $2,
	              filename = COALESCE(NULLIF($3, ''), filename),
	              content_type = COALESCE(NULLIF($4, ''), content_type)
	          WHERE id = $1`
	return s.execOne(ctx, "document", id, query, id, conversationID, filename, contentType)
}

// DeleteDocuments removes matching documents; chunks cascade.
func (s *PostgresStore) DeleteDocuments(ctx context.Context, filter port.DocumentFilter) (int, error) {
	if filter.Empty() {
		return 0, port.ErrEmptyFilter
	}
	where, args := documentWhere(filter)
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return int(n), nil
}

// --- Chunks ---

// FindChunks returns chunks ordered by document then chunk_index. Limit applies per document.
func (s *PostgresStore) FindChunks(ctx context.Context, filter port.ChunkFilter) ([]domain.DocumentChunk, error) {
	if len(filter.DocumentIDs) == 0 {
		return []domain.DocumentChunk{}, nil
	}

	query := `SELECT document_id, chunk_index, content, embedding, created_at
	          FROM document_chunks
	          WHERE document_id = ANY($1)`
	args := []interface{}{pq.Array(filter.DocumentIDs)}
	if filter.EmbeddedOnly {
		query += ` AND embedding IS NOT NULL`
	}
	if filter.Limit > 0 {
		query = `SELECT document_id, chunk_index, content, embedding, created_at FROM (
		             SELECT *, ROW_NUMBER() OVER (PARTITION BY document_id ORDER BY chunk_index) AS rn
		             FROM (` + query + `) scoped
		         ) ranked WHERE rn <= $2`
		args = append(args, filter.Limit)
	}
	query += ` ORDER BY array_position($1::text[], document_id::text), chunk_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find chunks: %w", err)
	}
	defer rows.Close()

	chunks := []domain.DocumentChunk{}
	for rows.Next() {
		var c domain.DocumentChunk
		var embedding *pgvector.Vector
		if err := rows.Scan(&c.DocumentID, &c.ChunkIndex, &c.Content, &embedding, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SetChunkEmbedding fills a chunk's embedding only while it is NULL, so a chunk moves from
// absent to present once and concurrent readers never see it change afterwards.
func (s *PostgresStore) SetChunkEmbedding(ctx context.Context, documentID string, chunkIndex int, embedding []float32) (bool, error) {
	query := `UPDATE document_chunks SET embedding = $3
	          WHERE document_id = $1 AND chunk_index = $2 AND embedding IS NULL`
	res, err := s.db.ExecContext(ctx, query, documentID, chunkIndex, pgvector.NewVector(embedding))
	if err != nil {
		return false, fmt.Errorf("set chunk embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set chunk embedding: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var d domain.Document
	if err := row.Scan(
		&d.ID, &d.Filename, &d.Owner, &d.Content, &d.ContentType, &d.ConversationID,
		&d.CreatedAt, &d.ExpiresAt, &d.ChunkCount,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

// documentWhere renders a filter as a WHERE clause with positional arguments.
func documentWhere(f port.DocumentFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.IDs) > 0 {
		add("id = ANY($%d)", pq.Array(f.IDs))
	}
	if f.Owner != "" {
		add("owner = $%d", f.Owner)
	}
	if f.ConversationID != "" {
		add("conversation_id = $%d", f.ConversationID)
	}
	if !f.ExpiredBefore.IsZero() {
		add("expires_at < $%d", f.ExpiredBefore)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullableVector(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
