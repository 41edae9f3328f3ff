// Package cache implements Redis-backed outbound ports.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"intel_server/core/port/out"
	"intel_server/pkg/cache"
	"intel_server/pkg/logger"

	"github.com/google/uuid"
)

const DefaultQueryTTL = time.Hour

// QueryEmbeddingCache stores vectors of search queries keyed by model and
// a hash of the query text.
type QueryEmbeddingCache struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewQueryEmbeddingCache(c *cache.RedisCache, ttl time.Duration) *QueryEmbeddingCache {
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	return &QueryEmbeddingCache{cache: c, ttl: ttl}
}

// Get treats any Redis failure as a miss.
func (q *QueryEmbeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	var vec []float32
	found, err := q.cache.GetJSON(ctx, q.key(model, text), &vec)
	if err != nil {
		logger.WithError(err).Debug("[QueryEmbeddingCache] get failed")
		return nil, false
	}
	return vec, found && len(vec) > 0
}

func (q *QueryEmbeddingCache) Set(ctx context.Context, model, text string, vector []float32) error {
	return q.cache.SetJSON(ctx, q.key(model, text), vector, q.ttl)
}

func (q *QueryEmbeddingCache) key(model, text string) string {
	return q.cache.Key("qemb", model, QueryHash(text))
}

// QueryHash is the hex sha256 of the query text.
func QueryHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var _ out.QueryEmbeddingCache = (*QueryEmbeddingCache)(nil)

func lockOwnerKey(c *cache.RedisCache, ownerID uuid.UUID) string {
	return c.Key("ingest", "lock", ownerID.String())
}
