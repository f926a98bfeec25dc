package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arturoeanton/go-chat-search-rag/internal/port"
)

// CachedEmbedder memoises embeddings by content hash in an LRU cache.
// Repeated chat queries and re-uploaded documents skip the embedding round trip.
type CachedEmbedder struct {
	next  port.Embedder
	cache *lru.Cache[string, []float32]
}

var _ port.Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps next with an LRU cache of the given size.
func NewCachedEmbedder(next port.Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		slog.Warn("embedding cache disabled", "error", err)
	}
	return &CachedEmbedder{next: next, cache: cache}
}

// ModelName returns the wrapped embedder's model.
func (c *CachedEmbedder) ModelName() string {
	return c.next.ModelName()
}

// Embed returns the cached vector or asks the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.get(key); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, v)
	return v, nil
}

// EmbedBatch embeds only the texts not already cached, in a single call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		if v, ok := c.get(c.key(t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		if j >= len(missingIdx) {
			break
		}
		out[missingIdx[j]] = v
		if len(v) > 0 {
			c.put(c.key(missing[j]), v)
		}
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.next.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *CachedEmbedder) put(key string, v []float32) {
	if c.cache != nil {
		c.cache.Add(key, v)
	}
}
