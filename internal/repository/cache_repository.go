package repository

import (
	"context"
	"time"
)

// CacheEntry is one row of the stage result cache backing store.
type CacheEntry struct {
	// CacheKey is the content-derived lookup key.
	CacheKey string

	// Stage scopes the key to a pipeline stage (split, retrieve, rerank).
	Stage string

	// Payload is the cached stage result as JSON.
	Payload []byte

	// CreatedAt is when the entry was written.
	CreatedAt time.Time

	// ExpiresAt is when the entry stops being served.
	ExpiresAt time.Time

	// HitCount tracks how many times the entry was served.
	HitCount int64
}

// CacheRepository handles the stage result cache backing store.
// Expiry is enforced by the caller: Get returns expired entries so the cache
// layer can decide to lazily delete them.
type CacheRepository interface {
	// Get retrieves a cache entry by key and stage.
	// Returns domain.ErrNotFound if no entry exists.
	Get(ctx context.Context, cacheKey, stage string) (*CacheEntry, error)

	// Put upserts a cache entry, replacing any previous payload and expiry
	// for the same key and stage.
	Put(ctx context.Context, entry *CacheEntry) error

	// Delete removes a cache entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, cacheKey, stage string) error

	// IncrementHit bumps an entry's hit counter. Best effort; a missing
	// entry is not an error.
	IncrementHit(ctx context.Context, cacheKey, stage string) error

	// DeleteExpired removes all entries whose expiry is before the given
	// time and returns the number of rows removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
