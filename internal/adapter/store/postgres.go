// Package store implements the store ports on PostgreSQL with the pgvector extension.
// The expected tables are described in schema.sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// PostgresStore handles all relational database operations.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ port.DocumentStore     = (*PostgresStore)(nil)
	_ port.ConversationStore = (*PostgresStore)(nil)
	_ port.AuditStore        = (*PostgresStore)(nil)
)

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Conversations ---

// CreateConversation inserts a conversation, assigning id and timestamps when unset.
func (s *PostgresStore) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Title == "" {
		c.Title = domain.DefaultConversationTitle
	}
	query := `INSERT INTO conversations (id, title, owner)
	          VALUES ($1, $2, $3)
	          RETURNING created_at, last_updated`
	if err := s.db.QueryRowContext(ctx, query, c.ID, c.Title, c.Owner).Scan(&c.CreatedAt, &c.LastUpdated); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT id, title, owner, created_at, last_updated FROM conversations WHERE id = $1`

	var c domain.Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Title, &c.Owner, &c.CreatedAt, &c.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns conversations, most recently updated first.
func (s *PostgresStore) ListConversations(ctx context.Context, owner string) ([]domain.Conversation, error) {
	query := `SELECT id, title, owner, created_at, last_updated FROM conversations`
	args := []interface{}{}
	if owner != "" {
		query += ` WHERE owner = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY last_updated DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Owner, &c.CreatedAt, &c.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// UpdateConversationTitle renames a conversation.
func (s *PostgresStore) UpdateConversationTitle(ctx context.Context, id, title string) error {
	query := `UPDATE conversations SET title = $2, last_updated = NOW() WHERE id = $1`
	return s.execOne(ctx, "conversation", id, query, id, title)
}

// TouchConversation sets last_updated.
func (s *PostgresStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE conversations SET last_updated = $2 WHERE id = $1`
	return s.execOne(ctx, "conversation", id, query, id, at)
}

// DeleteConversation removes a conversation; messages cascade.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	query := `DELETE FROM conversations WHERE id = $1`
	return s.execOne(ctx, "conversation", id, query, id)
}

// InsertMessage stores a message of an existing conversation.
func (s *PostgresStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	query := `INSERT INTO messages (id, conversation_id, sender, content, timestamp)
	          VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.ConversationID, m.Sender, m.Content, m.Timestamp); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in timestamp order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	query := `SELECT id, conversation_id, sender, content, timestamp
	          FROM messages WHERE conversation_id = $1
	          ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	if details == "" {
		details = "{}"
	}
	query := `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), userID, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns recent audit logs with optional filters.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, resource_id, details, ip, user_agent, created_at
	          FROM audit_logs`
	args := []interface{}{}
	argIdx := 1

	if action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.AuditLog{}
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// execOne runs a statement that must affect exactly one row.
func (s *PostgresStore) execOne(ctx context.Context, kind, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, port.ErrNotFound)
	}
	return nil
}
