package domain

import "time"

// Embedding job states.
const (
	JobPending  = "pending"
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// EmbeddingJob tracks the background embedding of one document's chunks.
type EmbeddingJob struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	Total       int       `json:"total"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j EmbeddingJob) Done() bool {
	return j.Status == JobComplete || j.Status == JobError
}
