package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// Compile-time interface verification.
var _ CacheRepository = (*PgCacheRepository)(nil)

// PgCacheRepository is a PostgreSQL implementation of CacheRepository.
type PgCacheRepository struct {
	db DBTX
}

// NewPgCacheRepository creates a new PostgreSQL cache repository.
func NewPgCacheRepository(db DBTX) *PgCacheRepository {
	return &PgCacheRepository{db: db}
}

// Get retrieves a cache entry by key and stage.
func (r *PgCacheRepository) Get(ctx context.Context, cacheKey, stage string) (*CacheEntry, error) {
	query := `
		SELECT cache_key, stage, payload, created_at, expires_at, hit_count
		FROM match_cache
		WHERE cache_key = $1 AND stage = $2`

	var entry CacheEntry
	err := r.db.QueryRow(ctx, query, cacheKey, stage).Scan(
		&entry.CacheKey, &entry.Stage, &entry.Payload,
		&entry.CreatedAt, &entry.ExpiresAt, &entry.HitCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("cache entry", cacheKey)
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	return &entry, nil
}

// Put upserts a cache entry, replacing any previous payload and expiry.
func (r *PgCacheRepository) Put(ctx context.Context, entry *CacheEntry) error {
	if entry == nil {
		return domain.NewValidationError("entry", "entry cannot be nil")
	}
	if entry.CacheKey == "" {
		return domain.NewValidationError("cache_key", "cache key is required")
	}
	if entry.Stage == "" {
		return domain.NewValidationError("stage", "stage is required")
	}

	query := `
		INSERT INTO match_cache (cache_key, stage, payload, created_at, expires_at, hit_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (cache_key, stage) DO UPDATE SET
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			hit_count = 0`

	_, err := r.db.Exec(ctx, query,
		entry.CacheKey, entry.Stage, entry.Payload,
		entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}

	return nil
}

// Delete removes a cache entry. Deleting a missing entry is not an error.
func (r *PgCacheRepository) Delete(ctx context.Context, cacheKey, stage string) error {
	query := `DELETE FROM match_cache WHERE cache_key = $1 AND stage = $2`

	if _, err := r.db.Exec(ctx, query, cacheKey, stage); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// IncrementHit bumps an entry's hit counter.
func (r *PgCacheRepository) IncrementHit(ctx context.Context, cacheKey, stage string) error {
	query := `
		UPDATE match_cache
		SET hit_count = hit_count + 1
		WHERE cache_key = $1 AND stage = $2`

	if _, err := r.db.Exec(ctx, query, cacheKey, stage); err != nil {
		return fmt.Errorf("failed to increment hit count: %w", err)
	}

	return nil
}

// DeleteExpired removes all entries whose expiry is before the given time.
func (r *PgCacheRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM match_cache WHERE expires_at < $1`

	result, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	return result.RowsAffected(), nil
}
