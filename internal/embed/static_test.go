package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderDimension(t *testing.T) {
	e := NewStaticEmbedder(512)
	vec, err := e.EmbedQuery(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 512)
}

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder(256)
	ctx := context.Background()

	v1, err := e.EmbedQuery(ctx, "the quick brown fox")
	require.NoError(t, err)
	v2, err := e.EmbedQuery(ctx, "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder(128)
	vec, err := e.EmbedQuery(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, vec, 128)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedderBatch(t *testing.T) {
	e := NewStaticEmbedder(64)
	vecs, err := e.EmbedDocuments(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 64)
	}
}

func TestStaticEmbedderClosed(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())
	_, err := e.EmbedQuery(context.Background(), "anything")
	assert.Error(t, err)
}

func TestSplitCamelCase(t *testing.T) {
	assert.Equal(t, []string{"get", "HTTP", "Request"}, splitCamelCase("getHTTPRequest"))
	assert.Equal(t, []string{"foo"}, splitCamelCase("foo"))
	assert.Equal(t, []string{}, splitCamelCase(""))
}

func TestCosine(t *testing.T) {
	u := []float32{1, 0, 0}
	v := []float32{1, 0, 0}
	neg := []float32{-1, 0, 0}
	zero := []float32{0, 0, 0}

	assert.InDelta(t, 1.0, Cosine(u, u), 1e-9)
	assert.InDelta(t, 1.0, Cosine(u, v), 1e-9)
	assert.InDelta(t, -1.0, Cosine(u, neg), 1e-9)
	assert.Equal(t, 0.0, Cosine(u, zero))
	assert.Equal(t, 0.0, Cosine(u, []float32{1, 0}))
}

func TestPrepareTextCollapsesAndTruncates(t *testing.T) {
	in := "  hello   \n\t world  "
	assert.Equal(t, "hello world", PrepareText(in, 0))

	long := "abcdefghijk"
	assert.Equal(t, "abcdefg...", PrepareText(long, 10))
}
