package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls      int
	batchCalls int
	batchSizes []int
}

func (c *countingEmbedder) ModelName() string { return "counting" }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	c.batchSizes = append(c.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCachedEmbedderEmbed(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 8)

	v1, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedderBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 8)

	_, err := cached.Embed(context.Background(), "aa")
	require.NoError(t, err)

	out, err := cached.EmbedBatch(context.Background(), []string{"aa", "bbb", "c"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{2}, {3}, {1}}, out)
	assert.Equal(t, []int{2}, inner.batchSizes)

	_, err = cached.EmbedBatch(context.Background(), []string{"bbb", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.batchCalls)
}
