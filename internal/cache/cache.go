// Package cache provides the stage result cache for the matching pipeline.
//
// The cache sits transparently in front of the splitter, retriever and
// reranker. It is an optimization, never a correctness dependency: every
// backing-store failure is swallowed and reported as a miss, and expired
// entries are deleted lazily on read instead of being served.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/stavmatch/boq-matching-service/internal/observability"
	"github.com/stavmatch/boq-matching-service/internal/repository"
)

// Default TTLs per stage. Split results are long-lived because the semantics
// of a text rarely change; retrieval and ranking track a moving catalog.
const (
	DefaultSplitTTL    = 30 * 24 * time.Hour
	DefaultRetrieveTTL = 7 * 24 * time.Hour
	DefaultRerankTTL   = 7 * 24 * time.Hour
)

// TTLConfig holds the per-stage entry lifetimes.
type TTLConfig struct {
	Split    time.Duration
	Retrieve time.Duration
	Rerank   time.Duration
}

// applyDefaults fills zero durations with the stage defaults.
func (c *TTLConfig) applyDefaults() {
	if c.Split <= 0 {
		c.Split = DefaultSplitTTL
	}
	if c.Retrieve <= 0 {
		c.Retrieve = DefaultRetrieveTTL
	}
	if c.Rerank <= 0 {
		c.Rerank = DefaultRerankTTL
	}
}

// Cache is the stage result cache over a CacheRepository backing store.
type Cache struct {
	repo    repository.CacheRepository
	ttls    TTLConfig
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a Cache. The metrics parameter may be nil, in which case no
// cache metrics are recorded.
func New(repo repository.CacheRepository, ttls TTLConfig, logger zerolog.Logger, metrics *observability.Metrics) *Cache {
	ttls.applyDefaults()
	return &Cache{
		repo:    repo,
		ttls:    ttls,
		logger:  logger.With().Str("component", "cache").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Get looks up a cached payload. It returns (payload, true) on a live hit and
// (nil, false) on a miss. An expired entry is deleted best-effort and counts
// as a miss. Backing-store errors are logged and count as misses.
func (c *Cache) Get(ctx context.Context, key, stage string) ([]byte, bool) {
	entry, err := c.repo.Get(ctx, key, stage)
	if err != nil {
		c.recordMiss(stage)
		return nil, false
	}

	if c.now().After(entry.ExpiresAt) {
		if delErr := c.repo.Delete(ctx, key, stage); delErr != nil {
			c.logger.Warn().Err(delErr).Str("stage", stage).Msg("failed to delete expired cache entry")
		}
		if c.metrics != nil {
			c.metrics.RecordCacheExpired(stage)
		}
		return nil, false
	}

	if hitErr := c.repo.IncrementHit(ctx, key, stage); hitErr != nil {
		c.logger.Debug().Err(hitErr).Str("stage", stage).Msg("failed to bump cache hit counter")
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(stage)
	}
	return entry.Payload, true
}

// GetJSON looks up a cached payload and unmarshals it into out. A payload
// that no longer unmarshals (schema drift) counts as a miss.
func (c *Cache) GetJSON(ctx context.Context, key, stage string, out any) bool {
	payload, ok := c.Get(ctx, key, stage)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		c.logger.Warn().Err(err).Str("stage", stage).Msg("cached payload no longer unmarshals, treating as miss")
		return false
	}
	return true
}

// Put stores a payload under the stage's TTL. Returns true when the write
// succeeded; a failed write is logged and reported as false, never as an
// error.
func (c *Cache) Put(ctx context.Context, key, stage string, payload []byte) bool {
	now := c.now()
	entry := &repository.CacheEntry{
		CacheKey:  key,
		Stage:     stage,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttlFor(stage)),
	}

	if err := c.repo.Put(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("stage", stage).Msg("cache write failed")
		return false
	}
	return true
}

// PutJSON marshals v and stores it under the stage's TTL.
func (c *Cache) PutJSON(ctx context.Context, key, stage string, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("stage", stage).Msg("cache payload marshal failed")
		return false
	}
	return c.Put(ctx, key, stage, payload)
}

// Sweep removes all expired entries. Expiry is otherwise enforced lazily on
// read, so Sweep only reclaims storage; it is safe to run at any cadence.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	removed, err := c.repo.DeleteExpired(ctx, c.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.logger.Info().Int64("removed", removed).Msg("swept expired cache entries")
	}
	if c.metrics != nil {
		c.metrics.RecordCacheSwept(int(removed))
	}
	return removed, nil
}

// RunSweeper sweeps at the given interval until the context is cancelled.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("cache sweep failed")
			}
		}
	}
}

func (c *Cache) ttlFor(stage string) time.Duration {
	switch stage {
	case StageSplit:
		return c.ttls.Split
	case StageRetrieve:
		return c.ttls.Retrieve
	default:
		return c.ttls.Rerank
	}
}

func (c *Cache) recordMiss(stage string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(stage)
	}
}
