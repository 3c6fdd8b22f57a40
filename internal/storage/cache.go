package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

const embeddingCachePrefix = "cache:emb:"

// EmbeddingCache caches query embeddings so repeated questions skip the
// embedding API. Implementations degrade gracefully: a cache miss or backend
// error is never fatal to the caller.
type EmbeddingCache interface {
	Get(ctx context.Context, model, text string) []float32
	Set(ctx context.Context, model, text string, embedding []float32)
	Stats() CacheStats
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// RedisEmbeddingCache implements EmbeddingCache on Redis.
type RedisEmbeddingCache struct {
	client *RedisClient
	ttl    time.Duration
	log    *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewRedisEmbeddingCache creates a cache with the given TTL.
func NewRedisEmbeddingCache(client *RedisClient, ttl time.Duration, log *logger.Logger) *RedisEmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.Default()
	}
	return &RedisEmbeddingCache{
		client: client,
		ttl:    ttl,
		log:    log.WithComponent("embedding_cache"),
	}
}

// Get returns a cached embedding or nil on miss.
func (c *RedisEmbeddingCache) Get(ctx context.Context, model, text string) []float32 {
	data, err := c.client.Get(ctx, cacheKey(model, text)).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil
	}
	if err != nil {
		c.errors.Add(1)
		c.log.Warn("cache get failed", "error", err)
		return nil
	}

	embedding := decodeEmbedding(data)
	if embedding == nil {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return embedding
}

// Set stores an embedding. Failures are logged and swallowed.
func (c *RedisEmbeddingCache) Set(ctx context.Context, model, text string, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	if err := c.client.Set(ctx, cacheKey(model, text), encodeEmbedding(embedding), c.ttl).Err(); err != nil {
		c.errors.Add(1)
		c.log.Warn("cache set failed", "error", err)
	}
}

// Stats returns hit/miss counters.
func (c *RedisEmbeddingCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return embeddingCachePrefix + hex.EncodeToString(sum[:16])
}

// NullEmbeddingCache is a no-op cache used when Redis is unavailable.
type NullEmbeddingCache struct{}

// Get always misses.
func (NullEmbeddingCache) Get(ctx context.Context, model, text string) []float32 { return nil }

// Set does nothing.
func (NullEmbeddingCache) Set(ctx context.Context, model, text string, embedding []float32) {}

// Stats returns zeroes.
func (NullEmbeddingCache) Stats() CacheStats { return CacheStats{} }
