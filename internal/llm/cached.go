package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/akhi19-dev/incident-agent/internal/cache"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

// CachedEmbedder memoises embeddings in a cache.Provider keyed by model and text hash.
type CachedEmbedder struct {
	inner     Embedder
	cache     cache.Provider
	namespace string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewCachedEmbedder wraps inner. A nil provider disables caching.
func NewCachedEmbedder(inner Embedder, provider cache.Provider, namespace string, ttl time.Duration, logger *slog.Logger) *CachedEmbedder {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &CachedEmbedder{
		inner:     inner,
		cache:     provider,
		namespace: namespace,
		ttl:       ttl,
		logger:    utils.Component(logger, "llm"),
	}
}

// Embed serves from cache when possible. Cache failures fall through to the provider.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	var cached []float32
	err := cache.GetJSON(ctx, c.cache, key, &cached)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Debug("embedding cache read failed", slog.Any("error", err))
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, vec, c.ttl); err != nil {
		c.logger.Debug("embedding cache write failed", slog.Any("error", err))
	}
	return vec, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}
