package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

const (
	mmrLambda         = 0.7
	recencyWindowDays = 7.0
	recencyMaxBoost   = 0.10
)

// RetrievalQuery selects and scores a principal's chunks against a query embedding.
type RetrievalQuery struct {
	Owner          string
	ConversationID string
	Embedding      []float32
	TopK           int
	Threshold      float64
}

// Retriever ranks document chunks by similarity with a recency boost, then re-ranks
// the best of them with Maximal Marginal Relevance for diversity.
type Retriever struct {
	store port.DocumentStore
	now   func() time.Time
}

// NewRetriever creates a retriever over the document store.
func NewRetriever(store port.DocumentStore) *Retriever {
	return &Retriever{store: store, now: time.Now}
}

type scoredChunk struct {
	domain.RetrievedChunk
	embedding []float32
}

// Retrieve returns up to TopK chunks in selection order. Chunks whose embedding is still
// absent are not candidates; an empty result means no relevant context.
func (r *Retriever) Retrieve(ctx context.Context, q RetrievalQuery) ([]domain.RetrievedChunk, error) {
	if q.TopK <= 0 || len(q.Embedding) == 0 {
		return nil, nil
	}
	if q.Owner == "" && q.ConversationID == "" {
		return nil, nil
	}
	start := time.Now()

	docs, err := r.store.FindDocuments(ctx, port.DocumentFilter{Owner: q.Owner, ConversationID: q.ConversationID})
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	docs = ownedBy(docs, q.Owner)
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	chunks, err := r.store.FindChunks(ctx, port.ChunkFilter{DocumentIDs: ids, EmbeddedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("find chunks: %w", err)
	}

	candidates := r.score(chunks, q.Embedding, q.Threshold)
	if len(candidates) == 0 {
		slog.Info("retrieval: no candidates above threshold", "owner", q.Owner, "chunks", len(chunks))
		return nil, nil
	}

	selected := selectMMR(candidates, q.TopK)

	out := make([]domain.RetrievedChunk, len(selected))
	var total float64
	for i, c := range selected {
		out[i] = c.RetrievedChunk
		total += c.Similarity
	}
	slog.Info("retrieval completed",
		"owner", q.Owner,
		"duration", time.Since(start),
		"chunks", len(out),
		"avg_similarity", fmt.Sprintf("%.2f", total/float64(len(out))),
	)
	return out, nil
}

// ownedBy keeps documents whose owner is exactly owner. The store treats an empty
// owner as "any", so anonymous callers would otherwise reach owned documents.
func ownedBy(docs []domain.Document, owner string) []domain.Document {
	out := docs[:0:0]
	for _, d := range docs {
		if d.Owner == owner {
			out = append(out, d)
		}
	}
	return out
}

// score keeps chunks whose base similarity reaches the threshold and applies the recency boost.
func (r *Retriever) score(chunks []domain.DocumentChunk, query []float32, threshold float64) []scoredChunk {
	now := r.now()
	var candidates []scoredChunk
	for _, c := range chunks {
		base, ok := CosineSimilarity(c.Embedding, query)
		if !ok || base < threshold {
			continue
		}
		candidates = append(candidates, scoredChunk{
			RetrievedChunk: domain.RetrievedChunk{
				DocumentChunk: domain.DocumentChunk{
					DocumentID: c.DocumentID,
					ChunkIndex: c.ChunkIndex,
					Content:    c.Content,
					CreatedAt:  c.CreatedAt,
				},
				Similarity: base * RecencyBoost(c.CreatedAt, now),
			},
			embedding: c.Embedding,
		})
	}
	return candidates
}

// selectMMR seeds with the best candidate, then repeatedly picks the candidate maximizing
// λ·similarity − (1−λ)·max similarity to the already selected chunks.
func selectMMR(candidates []scoredChunk, topK int) []scoredChunk {
	pool := make([]scoredChunk, len(candidates))
	copy(pool, candidates)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Similarity > pool[j].Similarity })

	poolSize := topK * 4
	if poolSize < topK {
		poolSize = topK
	}
	if len(pool) > poolSize {
		pool = pool[:poolSize]
	}

	selected := []scoredChunk{pool[0]}
	pool = pool[1:]

	for len(pool) > 0 && len(selected) < topK {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range pool {
			maxSim := math.Inf(-1)
			for _, s := range selected {
				sim, ok := CosineSimilarity(cand.embedding, s.embedding)
				if !ok {
					sim = 0
				}
				if sim > maxSim {
					maxSim = sim
				}
			}
			score := mmrLambda*cand.Similarity - (1-mmrLambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, pool[bestIdx])
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}
	return selected
}

// CosineSimilarity returns the cosine of the angle between a and b. ok is false when the
// dimensions differ or a vector is empty. A zero-norm vector has similarity 0.
func CosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, true
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// RecencyBoost is 1 + 0.10 × max(0, 1 − age_days/7); content from the future counts as new.
func RecencyBoost(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 1
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	factor := 1 - math.Min(ageDays/recencyWindowDays, 1)
	return 1 + recencyMaxBoost*factor
}
