package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-chat-search-rag/internal/adapter/store/memory"
	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
)

// vectorAt returns a unit vector at the given cosine to [1, 0, 0] in the x/y plane,
// tilted along z so vectors with the same cosine can still differ.
func vectorAt(cosine, tilt float64) []float32 {
	sin := math.Sqrt(1 - cosine*cosine)
	return []float32{float32(cosine), float32(sin * math.Cos(tilt)), float32(sin * math.Sin(tilt))}
}

func seedDocument(t *testing.T, s *memory.Store, owner string, createdAt time.Time, embeddings ...[]float32) string {
	t.Helper()
	chunks := make([]domain.DocumentChunk, len(embeddings))
	for i, e := range embeddings {
		chunks[i] = domain.DocumentChunk{ChunkIndex: i, Content: "chunk", Embedding: e, CreatedAt: createdAt}
	}
	doc := &domain.Document{Owner: owner, Filename: "doc.txt", CreatedAt: createdAt, ExpiresAt: createdAt.Add(24 * time.Hour)}
	require.NoError(t, s.InsertDocument(context.Background(), doc, chunks))
	return doc.ID
}

func TestRetrieveThresholdAppliesBeforeBoost(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	s := memory.New()
	seedDocument(t, s, "ana@example.com", now, vectorAt(0.65, 0))

	r := NewRetriever(s)
	r.now = func() time.Time { return now }

	got, err := r.Retrieve(context.Background(), RetrievalQuery{
		Owner:     "ana@example.com",
		Embedding: []float32{1, 0, 0},
		TopK:      5,
		Threshold: 0.7,
	})

	require.NoError(t, err)
	assert.Empty(t, got, "0.65 × 1.10 exceeds 0.7 but the base similarity does not")
}

func TestRetrieveMMRReturnsTopKWithBestFirst(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	s := memory.New()

	var embeddings [][]float32
	for i := 0; i < 10; i++ {
		embeddings = append(embeddings, vectorAt(0.80+float64(i)*0.015, float64(i)*0.6))
	}
	seedDocument(t, s, "ana@example.com", now.Add(-30*24*time.Hour), embeddings...)
	// A fresher, slightly less similar chunk wins after the recency boost.
	freshID := seedDocument(t, s, "ana@example.com", now, vectorAt(0.90, 2.0))

	r := NewRetriever(s)
	r.now = func() time.Time { return now }

	got, err := r.Retrieve(context.Background(), RetrievalQuery{
		Owner:     "ana@example.com",
		Embedding: []float32{1, 0, 0},
		TopK:      3,
		Threshold: 0.7,
	})

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, freshID, got[0].DocumentID)
	assert.InDelta(t, 0.90*1.10, got[0].Similarity, 1e-4)
	for _, c := range got[1:] {
		assert.LessOrEqual(t, c.Similarity, got[0].Similarity)
	}
}

func TestRetrieveSkipsMismatchedDimensionsAndOtherOwners(t *testing.T) {
	now := time.Now().UTC()
	s := memory.New()
	seedDocument(t, s, "ana@example.com", now, []float32{1, 0}, []float32{1, 0, 0})
	seedDocument(t, s, "bob@example.com", now, []float32{1, 0, 0})

	r := NewRetriever(s)
	got, err := r.Retrieve(context.Background(), RetrievalQuery{
		Owner:     "ana@example.com",
		Embedding: []float32{1, 0, 0},
		TopK:      5,
		Threshold: 0.5,
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ChunkIndex)
}

func TestRetrieveIgnoresChunksWithoutEmbedding(t *testing.T) {
	s := memory.New()
	seedDocument(t, s, "ana@example.com", time.Now(), nil, nil)

	got, err := NewRetriever(s).Retrieve(context.Background(), RetrievalQuery{
		Owner:     "ana@example.com",
		Embedding: []float32{1, 0, 0},
		TopK:      5,
		Threshold: 0,
	})

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveRequiresScope(t *testing.T) {
	s := memory.New()
	seedDocument(t, s, "ana@example.com", time.Now(), []float32{1, 0, 0})

	got, err := NewRetriever(s).Retrieve(context.Background(), RetrievalQuery{Embedding: []float32{1, 0, 0}, TopK: 5})

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveAnonymousCannotReachOwnedConversation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	doc := &domain.Document{Owner: "bob@example.com", ConversationID: "conv-bob", Filename: "pay.txt", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	chunks := []domain.DocumentChunk{{Content: "bob salary 123k", Embedding: []float32{1, 0, 0}, CreatedAt: time.Now()}}
	require.NoError(t, s.InsertDocument(ctx, doc, chunks))

	r := NewRetriever(s)
	got, err := r.Retrieve(ctx, RetrievalQuery{ConversationID: "conv-bob", Embedding: []float32{1, 0, 0}, TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Retrieve(ctx, RetrievalQuery{Owner: "bob@example.com", ConversationID: "conv-bob", Embedding: []float32{1, 0, 0}, TopK: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob salary 123k", got[0].Content)
}

func TestSelectMMRPrefersDiversity(t *testing.T) {
	mk := func(sim float64, emb []float32) scoredChunk {
		return scoredChunk{RetrievedChunk: domain.RetrievedChunk{Similarity: sim}, embedding: emb}
	}
	best := mk(0.95, []float32{1, 0})
	nearDuplicate := mk(0.94, []float32{1, 0.01})
	different := mk(0.90, []float32{0, 1})

	got := selectMMR([]scoredChunk{nearDuplicate, different, best}, 2)

	require.Len(t, got, 2)
	assert.Equal(t, 0.95, got[0].Similarity)
	assert.Equal(t, 0.90, got[1].Similarity)
}

func TestCosineSimilarity(t *testing.T) {
	sim, ok := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	assert.True(t, ok)
	assert.InDelta(t, 0, sim, 1e-9)

	sim, ok = CosineSimilarity([]float32{1, 1}, []float32{2, 2})
	assert.True(t, ok)
	assert.InDelta(t, 1, sim, 1e-9)

	_, ok = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.False(t, ok)

	sim, ok = CosineSimilarity([]float32{0, 0}, []float32{1, 2})
	assert.True(t, ok)
	assert.Equal(t, 0.0, sim)
}

func TestRecencyBoost(t *testing.T) {
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 1.10, RecencyBoost(now, now), 1e-9)
	assert.InDelta(t, 1.05, RecencyBoost(now.Add(-84*time.Hour), now), 1e-9)
	assert.InDelta(t, 1.0, RecencyBoost(now.Add(-7*24*time.Hour), now), 1e-9)
	assert.InDelta(t, 1.0, RecencyBoost(now.Add(-30*24*time.Hour), now), 1e-9)
	assert.InDelta(t, 1.10, RecencyBoost(now.Add(time.Hour), now), 1e-9)
	assert.Equal(t, 1.0, RecencyBoost(time.Time{}, now))
}
