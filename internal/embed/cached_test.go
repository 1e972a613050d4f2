package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	dim   int
}

func (c *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0}
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int { return c.dim }
func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Close() error   { return nil }

func TestCachedEmbedderDeduplicatesQueries(t *testing.T) {
	inner := &countingEmbedder{dim: 1}
	cached := NewCachedEmbedder(inner, 10)

	ctx := context.Background()
	v1, err := cached.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	v2, err := cached.EmbedQuery(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderDocumentsAlwaysDelegate(t *testing.T) {
	inner := &countingEmbedder{dim: 1}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "counting", cached.Name())
	assert.Equal(t, 1, cached.Dimension())
}
