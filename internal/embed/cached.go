package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize bounds the query-embedding cache's memory use.
const DefaultQueryCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache over EmbedQuery calls
// only: repeated identical search queries skip re-embedding, while document
// embedding (run once per chunk at index time) always goes to the backend.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a query cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// EmbedQuery returns the cached embedding when present, otherwise computes
// and caches it.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedDocuments always delegates; document embeddings are not cached.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedDocuments(ctx, texts)
}

// Dimension delegates to the wrapped embedder.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Name delegates to the wrapped embedder.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// Close releases the wrapped embedder; the cache itself holds no resources.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }
