package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// EmbeddingQueue fills chunk embeddings in the background after ingest. Jobs are keyed by
// document id; status updates fan out to subscribers without blocking the workers.
type EmbeddingQueue struct {
	embedder port.Embedder
	store    port.DocumentStore
	workers  int
	tasks    chan string

	mu     sync.RWMutex
	jobs   map[string]*domain.EmbeddingJob
	subs   map[string][]chan domain.EmbeddingJob
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewEmbeddingQueue creates a queue with the given worker count and pending capacity.
func NewEmbeddingQueue(embedder port.Embedder, store port.DocumentStore, workers, capacity int) *EmbeddingQueue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	return &EmbeddingQueue{
		embedder: embedder,
		store:    store,
		workers:  workers,
		tasks:    make(chan string, capacity),
		jobs:     make(map[string]*domain.EmbeddingJob),
		subs:     make(map[string][]chan domain.EmbeddingJob),
	}
}

// Start launches the workers. They exit when ctx is cancelled or Stop is called.
func (q *EmbeddingQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case documentID, ok := <-q.tasks:
					if !ok {
						return
					}
					q.process(ctx, documentID)
				}
			}
		}()
	}
	slog.Info("🧮 Embedding workers started", "workers", q.workers, "model", q.embedder.ModelName())
}

// Stop closes the queue and waits for in-flight jobs to finish. Later Enqueue calls
// fail with ErrQueueClosed.
func (q *EmbeddingQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
	})
	q.wg.Wait()
}

// Enqueue schedules the document's chunks for embedding. It never blocks; a full or
// stopped queue marks the job as failed and leaves the chunks without embeddings.
func (q *EmbeddingQueue) Enqueue(documentID string, total int) (domain.EmbeddingJob, error) {
	job := &domain.EmbeddingJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     domain.JobPending,
		Total:      total,
		StartedAt:  time.Now().UTC(),
	}

	// The send happens under the lock so Stop cannot close tasks mid-send.
	q.mu.Lock()
	q.jobs[documentID] = job
	reason := port.ErrQueueClosed
	if !q.closed {
		select {
		case q.tasks <- documentID:
			reason = nil
		default:
			reason = port.ErrQueueFull
		}
	}
	q.mu.Unlock()

	if reason == nil {
		return *job, nil
	}
	q.update(documentID, func(j *domain.EmbeddingJob) {
		j.Status = domain.JobError
		j.Error = reason.Error()
	})
	return q.snapshot(documentID), reason
}

// Status returns the latest state of the document's embedding job.
func (q *EmbeddingQueue) Status(documentID string) (domain.EmbeddingJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[documentID]
	if !ok {
		return domain.EmbeddingJob{}, false
	}
	return *job, true
}

// Subscribe returns a channel that receives the document's job updates.
func (q *EmbeddingQueue) Subscribe(documentID string) chan domain.EmbeddingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan domain.EmbeddingJob, 10)
	q.subs[documentID] = append(q.subs[documentID], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (q *EmbeddingQueue) Unsubscribe(documentID string, ch chan domain.EmbeddingJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	subs := q.subs[documentID]
	for i, s := range subs {
		if s == ch {
			q.subs[documentID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(q.subs[documentID]) == 0 {
		delete(q.subs, documentID)
	}
}

// Forget drops the job state of a deleted document.
func (q *EmbeddingQueue) Forget(documentID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, documentID)
}

func (q *EmbeddingQueue) process(ctx context.Context, documentID string) {
	start := time.Now()
	q.update(documentID, func(j *domain.EmbeddingJob) { j.Status = domain.JobRunning })

	chunks, err := q.store.FindChunks(ctx, port.ChunkFilter{DocumentIDs: []string{documentID}})
	if err != nil {
		slog.Error("embedding job failed to load chunks", "document_id", documentID, "error", err)
		q.finish(documentID, fmt.Errorf("load chunks: %w", err))
		return
	}
	q.update(documentID, func(j *domain.EmbeddingJob) { j.Total = len(chunks) })

	failed := 0
	for i, c := range chunks {
		if ctx.Err() != nil {
			q.finish(documentID, ctx.Err())
			return
		}
		if !c.HasEmbedding() {
			if err := q.embedChunk(ctx, c); err != nil {
				failed++
				slog.Warn("chunk embedding failed", "document_id", documentID, "chunk_index", c.ChunkIndex, "error", err)
			}
		}
		q.update(documentID, func(j *domain.EmbeddingJob) {
			j.Progress = i + 1
			j.Failed = failed
		})
	}

	var jobErr error
	if failed > 0 && failed == len(chunks) {
		jobErr = fmt.Errorf("all %d chunks failed to embed", failed)
	}
	q.finish(documentID, jobErr)
	slog.Info("embedding job finished",
		"document_id", documentID,
		"chunks", len(chunks),
		"failed", failed,
		"duration", time.Since(start),
	)
}

func (q *EmbeddingQueue) embedChunk(ctx context.Context, c domain.DocumentChunk) error {
	embedding, err := q.embedder.Embed(ctx, c.Content)
	if err != nil {
		return err
	}
	if len(embedding) == 0 {
		return port.ErrEmptyEmbedding
	}
	if _, err := q.store.SetChunkEmbedding(ctx, c.DocumentID, c.ChunkIndex, embedding); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

func (q *EmbeddingQueue) finish(documentID string, err error) {
	q.update(documentID, func(j *domain.EmbeddingJob) {
		j.Status = domain.JobComplete
		if err != nil {
			j.Status = domain.JobError
			j.Error = err.Error()
		}
		j.CompletedAt = time.Now().UTC()
	})
}

// update mutates the job and notifies subscribers with a snapshot.
func (q *EmbeddingQueue) update(documentID string, mutate func(*domain.EmbeddingJob)) {
	q.mu.Lock()
	job, ok := q.jobs[documentID]
	if !ok {
		job = &domain.EmbeddingJob{ID: uuid.NewString(), DocumentID: documentID, StartedAt: time.Now().UTC()}
		q.jobs[documentID] = job
	}
	mutate(job)
	snapshot := *job

	// Sends happen under the lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range q.subs[documentID] {
		deliver(ch, snapshot)
	}
	q.mu.Unlock()
}

// deliver never blocks. Progress snapshots are dropped when the subscriber lags, but a
// terminal snapshot evicts the oldest buffered one so the stream always sees the end.
func deliver(ch chan domain.EmbeddingJob, snapshot domain.EmbeddingJob) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
		}
		if !snapshot.Done() {
			return
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (q *EmbeddingQueue) snapshot(documentID string) domain.EmbeddingJob {
	job, _ := q.Status(documentID)
	return job
}
