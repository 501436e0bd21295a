package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/repository"
)

// mockCacheRepo implements repository.CacheRepository for testing.
type mockCacheRepo struct {
	entry      *repository.CacheEntry
	getErr     error
	putErr     error
	deleteErr  error
	deleted    []string
	put        []*repository.CacheEntry
	hits       int
	sweptCount int64
	sweepErr   error
}

func (m *mockCacheRepo) Get(_ context.Context, cacheKey, stage string) (*repository.CacheEntry, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.entry == nil {
		return nil, domain.NewNotFoundError("cache entry", cacheKey)
	}
	return m.entry, nil
}

func (m *mockCacheRepo) Put(_ context.Context, entry *repository.CacheEntry) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.put = append(m.put, entry)
	return nil
}

func (m *mockCacheRepo) Delete(_ context.Context, cacheKey, stage string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, cacheKey)
	return nil
}

func (m *mockCacheRepo) IncrementHit(_ context.Context, _, _ string) error {
	m.hits++
	return nil
}

func (m *mockCacheRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	if m.sweepErr != nil {
		return 0, m.sweepErr
	}
	return m.sweptCount, nil
}

func newTestCache(repo repository.CacheRepository) *Cache {
	return New(repo, TTLConfig{}, zerolog.Nop(), nil)
}

func TestCache_GetHit(t *testing.T) {
	repo := &mockCacheRepo{
		entry: &repository.CacheEntry{
			CacheKey:  "k1",
			Stage:     StageSplit,
			Payload:   []byte(`{"detected_type":"SINGLE"}`),
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	c := newTestCache(repo)

	payload, ok := c.Get(context.Background(), "k1", StageSplit)
	require.True(t, ok)
	assert.JSONEq(t, `{"detected_type":"SINGLE"}`, string(payload))
	assert.Equal(t, 1, repo.hits)
}

func TestCache_GetMiss(t *testing.T) {
	c := newTestCache(&mockCacheRepo{})

	_, ok := c.Get(context.Background(), "absent", StageSplit)
	assert.False(t, ok)
}

func TestCache_ExpiredEntryDeletedAndMissed(t *testing.T) {
	repo := &mockCacheRepo{
		entry: &repository.CacheEntry{
			CacheKey:  "k1",
			Stage:     StageRetrieve,
			Payload:   []byte(`{}`),
			ExpiresAt: time.Now().Add(-time.Minute),
		},
	}
	c := newTestCache(repo)

	_, ok := c.Get(context.Background(), "k1", StageRetrieve)
	assert.False(t, ok)
	assert.Equal(t, []string{"k1"}, repo.deleted)
	assert.Zero(t, repo.hits)
}

func TestCache_BackingStoreErrorIsMiss(t *testing.T) {
	repo := &mockCacheRepo{getErr: errors.New("connection refused")}
	c := newTestCache(repo)

	_, ok := c.Get(context.Background(), "k1", StageRerank)
	assert.False(t, ok)
}

func TestCache_PutUsesStageTTL(t *testing.T) {
	repo := &mockCacheRepo{}
	c := newTestCache(repo)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	require.True(t, c.Put(context.Background(), "k1", StageSplit, []byte(`{}`)))
	require.True(t, c.Put(context.Background(), "k2", StageRetrieve, []byte(`{}`)))
	require.Len(t, repo.put, 2)

	assert.Equal(t, fixed.Add(DefaultSplitTTL), repo.put[0].ExpiresAt)
	assert.Equal(t, fixed.Add(DefaultRetrieveTTL), repo.put[1].ExpiresAt)
}

func TestCache_PutFailureSwallowed(t *testing.T) {
	repo := &mockCacheRepo{putErr: errors.New("disk full")}
	c := newTestCache(repo)

	assert.False(t, c.Put(context.Background(), "k1", StageSplit, []byte(`{}`)))
}

func TestCache_JSONRoundTrip(t *testing.T) {
	repo := &mockCacheRepo{}
	c := newTestCache(repo)

	type splitResult struct {
		DetectedType string `json:"detected_type"`
	}

	require.True(t, c.PutJSON(context.Background(), "k1", StageSplit, splitResult{DetectedType: "COMPOSITE"}))
	require.Len(t, repo.put, 1)

	repo.entry = repo.put[0]
	repo.entry.ExpiresAt = time.Now().Add(time.Hour)

	var out splitResult
	require.True(t, c.GetJSON(context.Background(), "k1", StageSplit, &out))
	assert.Equal(t, "COMPOSITE", out.DetectedType)
}

func TestCache_GetJSONCorruptPayloadIsMiss(t *testing.T) {
	repo := &mockCacheRepo{
		entry: &repository.CacheEntry{
			CacheKey:  "k1",
			Stage:     StageSplit,
			Payload:   []byte(`{not json`),
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	c := newTestCache(repo)

	var out map[string]any
	assert.False(t, c.GetJSON(context.Background(), "k1", StageSplit, &out))
}

func TestCache_Sweep(t *testing.T) {
	repo := &mockCacheRepo{sweptCount: 42}
	c := newTestCache(repo)

	removed, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), removed)

	repo.sweepErr = errors.New("timeout")
	_, err = c.Sweep(context.Background())
	assert.Error(t, err)
}

func TestKeys_Deterministic(t *testing.T) {
	k1 := SplitKey("beton c 25/30", 5)
	k2 := SplitKey("beton c 25/30", 5)
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, k1, SplitKey("beton c 25/30", 3))
	assert.NotEqual(t, k1, SplitKey("zdivo porotherm", 5))
}

func TestKeys_StageScoped(t *testing.T) {
	// Identical text must never produce the same key in different stages.
	split := SplitKey("beton", 5)
	retrieve := RetrieveKey("beton", nil, domain.SearchDepthNormal)
	assert.NotEqual(t, split, retrieve)
}

func TestRerankKey_IgnoresCandidateNoise(t *testing.T) {
	price := 1250.0
	a := []domain.Candidate{
		{Code: "121-01", Name: "Betonáž stěn", Unit: "m3"},
		{Code: "121-02", Name: "Betonáž sloupů", Unit: "m3"},
	}
	// Same codes, different order, different cosmetic fields.
	b := []domain.Candidate{
		{Code: "121-02", Name: "Betonáž sloupů nadzemních podlaží", Unit: "m3", Price: &price},
		{Code: "121-01", Name: "Betonáž stěn", Unit: "m3", Snippet: "extra detail"},
	}

	assert.Equal(t, RerankKey("betonáž stěn", a, 3), RerankKey("betonáž stěn", b, 3))
	assert.NotEqual(t, RerankKey("betonáž stěn", a, 3), RerankKey("betonáž stěn", a, 5))
}
