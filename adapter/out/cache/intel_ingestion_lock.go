package cache

import (
	"context"
	"sync"
	"time"

	"intel_server/core/port/out"
	"intel_server/pkg/cache"

	"github.com/google/uuid"
)

// IngestionLock is a per-owner SETNX lock. The value is a random token so
// a holder only ever releases its own lock, even after the TTL lapsed and
// someone else took it.
type IngestionLock struct {
	cache *cache.RedisCache

	mu     sync.Mutex
	tokens map[uuid.UUID]string
}

func NewIngestionLock(c *cache.RedisCache) *IngestionLock {
	return &IngestionLock{cache: c, tokens: make(map[uuid.UUID]string)}
}

func (l *IngestionLock) Acquire(ctx context.Context, ownerID uuid.UUID, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, lockOwnerKey(l.cache, ownerID), token, ttl)
	if err != nil || !ok {
		return false, err
	}

	l.mu.Lock()
	l.tokens[ownerID] = token
	l.mu.Unlock()
	return true, nil
}

// Extend pushes the expiry of a lock this process holds. It reports false
// when the lock was never taken here or has since passed to someone else.
func (l *IngestionLock) Extend(ctx context.Context, ownerID uuid.UUID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[ownerID]
	l.mu.Unlock()

	if !ok {
		return false, nil
	}
	return l.cache.ExpireIfEquals(ctx, lockOwnerKey(l.cache, ownerID), token, ttl)
}

func (l *IngestionLock) Release(ctx context.Context, ownerID uuid.UUID) error {
	l.mu.Lock()
	token, ok := l.tokens[ownerID]
	delete(l.tokens, ownerID)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	_, err := l.cache.DeleteIfEquals(ctx, lockOwnerKey(l.cache, ownerID), token)
	return err
}

var _ out.IngestionLock = (*IngestionLock)(nil)
