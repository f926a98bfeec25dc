package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/store/memory"
	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

type plainExtractor struct{}

func (plainExtractor) Supports(filename string) bool { return strings.HasSuffix(filename, ".txt") }

func (plainExtractor) Extract(filename string, data []byte) (string, error) {
	return string(data), nil
}

func TestSplitText(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"one\n\ntwo"}, SplitText("one\n\ntwo", 1000, 200))
	})

	t.Run("empty text", func(t *testing.T) {
		assert.Empty(t, SplitText("  \n\n ", 1000, 200))
	})

	t.Run("chunks respect size and overlap", func(t *testing.T) {
		var paras []string
		for i := 0; i < 12; i++ {
			paras = append(paras, strings.Repeat(string(rune('a'+i)), 300))
		}
		chunks := SplitText(strings.Join(paras, "\n\n"), 1000, 200)

		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 1000)
		}
		// The second chunk opens with the tail of the first.
		first := []rune(chunks[0])
		tail := string(first[len(first)-200:])
		assert.True(t, strings.HasPrefix(chunks[1], tail))
	})

	t.Run("long paragraph is cut", func(t *testing.T) {
		chunks := SplitText(strings.Repeat("é", 2500), 1000, 200)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 1000)
		}
		assert.GreaterOrEqual(t, len(chunks), 3)
	})
}

func TestUploadStoresChunksWithoutEmbeddings(t *testing.T) {
	s := memory.New()
	svc := NewDocumentService(s, plainExtractor{}, nil, 0, 1<<20)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, UploadInput{
		Filename: "notes.txt",
		Data:     []byte("first paragraph\n\nsecond paragraph"),
		Owner:    "ana@example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, "application/octet-stream", doc.ContentType)
	assert.WithinDuration(t, doc.CreatedAt.Add(24*time.Hour), doc.ExpiresAt, time.Second)

	chunks, err := s.FindChunks(ctx, port.ChunkFilter{DocumentIDs: []string{doc.ID}})
	require.NoError(t, err)
	require.Len(t, chunks, doc.ChunkCount)
	assert.False(t, chunks[0].HasEmbedding())
}

func TestUploadRejections(t *testing.T) {
	svc := NewDocumentService(memory.New(), plainExtractor{}, nil, 0, 8)

	_, err := svc.Upload(context.Background(), UploadInput{Filename: "big.txt", Data: make([]byte, 9)})
	assert.ErrorIs(t, err, port.ErrFileTooLarge)

	_, err = svc.Upload(context.Background(), UploadInput{Filename: "image.jpg", Data: []byte("x")})
	assert.ErrorIs(t, err, port.ErrUnsupportedFile)
}

func TestDeleteHidesOtherOwnersDocuments(t *testing.T) {
	s := memory.New()
	svc := NewDocumentService(s, plainExtractor{}, nil, 0, 0)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, &domain.Document{Filename: "a.txt", Owner: "ana@example.com"}, "text")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "bob@example.com", doc.ID), port.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "ana@example.com", doc.ID))

	_, err = s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, port.ErrNotFound)
	chunks, err := s.FindChunks(ctx, port.ChunkFilter{DocumentIDs: []string{doc.ID}})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCleanupDeletesExpired(t *testing.T) {
	s := memory.New()
	svc := NewDocumentService(s, plainExtractor{}, nil, time.Hour, 0)
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return past }
	old, err := svc.Ingest(ctx, &domain.Document{Filename: "old.txt", Owner: "ana@example.com"}, "old")
	require.NoError(t, err)

	svc.now = time.Now
	fresh, err := svc.Ingest(ctx, &domain.Document{Filename: "new.txt", Owner: "ana@example.com"}, "new")
	require.NoError(t, err)

	n, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetDocument(ctx, old.ID)
	assert.ErrorIs(t, err, port.ErrNotFound)
	_, err = s.GetDocument(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestEmbeddingQueueFillsChunks(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewEmbeddingQueue(&fixedEmbedder{vector: []float32{0.1, 0.2, 0.3}}, s, 2, 4)
	queue.Start(ctx)
	defer queue.Stop()

	svc := NewDocumentService(s, plainExtractor{}, queue, 0, 0)
	doc, err := svc.Ingest(ctx, &domain.Document{Filename: "a.txt", Owner: "ana@example.com"}, strings.Repeat("word ", 500))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := queue.Status(doc.ID)
		return ok && job.Done()
	}, 2*time.Second, 10*time.Millisecond)

	job, err := svc.EmbeddingStatus(ctx, "ana@example.com", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, job.Status)
	assert.Equal(t, doc.ChunkCount, job.Progress)

	chunks, err := s.FindChunks(ctx, port.ChunkFilter{DocumentIDs: []string{doc.ID}, EmbeddedOnly: true})
	require.NoError(t, err)
	assert.Len(t, chunks, doc.ChunkCount)
}

func TestEmbeddingQueueReportsTotalFailure(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewEmbeddingQueue(&fixedEmbedder{err: errors.New("model offline")}, s, 1, 4)
	queue.Start(ctx)
	defer queue.Stop()

	svc := NewDocumentService(s, plainExtractor{}, queue, 0, 0)
	doc, err := svc.Ingest(ctx, &domain.Document{Filename: "a.txt", Owner: "ana@example.com"}, "text")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := queue.Status(doc.ID)
		return ok && job.Done()
	}, 2*time.Second, 10*time.Millisecond)

	job, _ := queue.Status(doc.ID)
	assert.Equal(t, domain.JobError, job.Status)
	assert.Equal(t, 1, job.Failed)
}

func TestEmbeddingQueueFull(t *testing.T) {
	queue := NewEmbeddingQueue(&fixedEmbedder{}, memory.New(), 1, 1)

	_, err := queue.Enqueue("doc-1", 1)
	require.NoError(t, err)
	job, err := queue.Enqueue("doc-2", 1)

	assert.ErrorIs(t, err, port.ErrQueueFull)
	assert.Equal(t, domain.JobError, job.Status)
}

func TestEmbeddingQueueRejectsAfterStop(t *testing.T) {
	queue := NewEmbeddingQueue(&fixedEmbedder{}, memory.New(), 1, 4)
	queue.Start(context.Background())
	queue.Stop()

	job, err := queue.Enqueue("doc-late", 1)

	assert.ErrorIs(t, err, port.ErrQueueClosed)
	assert.Equal(t, domain.JobError, job.Status)
	assert.NotPanics(t, queue.Stop)
}

func TestEmbeddingQueueDeliversTerminalToLaggingSubscriber(t *testing.T) {
	queue := NewEmbeddingQueue(&fixedEmbedder{}, memory.New(), 1, 4)
	ch := queue.Subscribe("doc-1")
	defer queue.Unsubscribe("doc-1", ch)

	for i := 1; i <= 25; i++ {
		queue.update("doc-1", func(j *domain.EmbeddingJob) {
			j.Status = domain.JobRunning
			j.Progress = i
		})
	}
	queue.finish("doc-1", nil)

	var last domain.EmbeddingJob
	for len(ch) > 0 {
		last = <-ch
	}
	assert.True(t, last.Done())
	assert.Equal(t, domain.JobComplete, last.Status)
	assert.Equal(t, 25, last.Progress)
}
