// Package retriever finds catalog candidates for a subwork by generating
// several search queries and running them against the configured catalog
// sources.
//
// Queries run sequentially; a failed query is logged and skipped, never
// aborting retrieval. The local offline catalog, when configured, is
// consulted first and can short-circuit remote search entirely. The primary
// remote source falls back to the secondary one per query when it returns
// zero candidates. An all-empty retrieval is signaled through the result's
// Error field, not through a returned error, so the coordinator can flag the
// item for review.
package retriever

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stavmatch/boq-matching-service/internal/cache"
	"github.com/stavmatch/boq-matching-service/internal/catalog"
	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/observability"
)

// maxCandidates caps the deduplicated result set, preserving discovery order.
const maxCandidates = 30

// DefaultShortCircuitScore is the local-catalog score at which remote search
// is skipped.
const DefaultShortCircuitScore = 0.9

// Result is the outcome of candidate retrieval for one subwork.
type Result struct {
	// Candidates are the deduplicated catalog candidates in discovery
	// order, capped at 30. May be empty.
	Candidates []domain.Candidate `json:"candidates"`

	// QueriesUsed lists the queries that were executed, in order.
	QueriesUsed []string `json:"queries_used"`

	// Error is set when every query returned zero candidates. It is data,
	// not a failure: the coordinator uses it to flag the item for review.
	Error string `json:"error,omitempty"`

	// Duration is the total retrieval time.
	Duration time.Duration `json:"duration"`
}

// Config holds retriever tuning knobs.
type Config struct {
	// ShortCircuitScore is the minimum local-catalog score that skips
	// remote search. Defaults to 0.9.
	ShortCircuitScore float64

	// MaxResultsPerQuery limits candidates requested per query.
	MaxResultsPerQuery int
}

// Retriever executes catalog searches for subworks.
type Retriever struct {
	registry *catalog.Registry
	cache    *cache.Cache
	config   Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// New creates a Retriever. The cache and metrics may be nil.
func New(registry *catalog.Registry, resultCache *cache.Cache, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Retriever {
	if cfg.ShortCircuitScore <= 0 {
		cfg.ShortCircuitScore = DefaultShortCircuitScore
	}
	return &Retriever{
		registry: registry,
		cache:    resultCache,
		config:   cfg,
		logger:   logger.With().Str("component", "retriever").Logger(),
		metrics:  metrics,
	}
}

// Retrieve finds catalog candidates for the subwork at the given search
// depth. It never returns an error for empty or partially failed searches;
// only context cancellation aborts it.
func (r *Retriever) Retrieve(ctx context.Context, subWork domain.SubWork, depth domain.SearchDepth) (*Result, error) {
	key := cache.RetrieveKey(subWork.Text, subWork.Keywords, depth)
	if r.cache != nil {
		var cached Result
		if r.cache.GetJSON(ctx, key, cache.StageRetrieve, &cached) {
			return &cached, nil
		}
	}

	result, err := r.search(ctx, subWork, depth)
	if err != nil {
		return nil, err
	}

	// Empty retrievals are not cached; the catalog outage or gap that
	// caused them is usually transient.
	if r.cache != nil && result.Error == "" {
		r.cache.PutJSON(ctx, key, cache.StageRetrieve, result)
	}
	return result, nil
}

func (r *Retriever) search(ctx context.Context, subWork domain.SubWork, depth domain.SearchDepth) (*Result, error) {
	start := time.Now()
	result := &Result{}

	var pool []domain.Candidate

	// The local catalog is consulted first with the full subwork text and
	// can short-circuit remote search entirely.
	if local := r.registry.Local(); local != nil {
		localResult := r.searchSource(ctx, local, subWork.Text)
		if localResult != nil {
			result.QueriesUsed = append(result.QueriesUsed, subWork.Text)
			pool = append(pool, localResult.Candidates...)

			if localResult.TopScore >= r.config.ShortCircuitScore && len(localResult.Candidates) > 0 {
				r.logger.Debug().
					Float64("score", localResult.TopScore).
					Msg("local catalog short-circuited remote search")
				result.Candidates = dedupe(pool)
				result.Duration = time.Since(start)
				return result, nil
			}
		}
	}

	primary := r.registry.Primary()
	secondary := r.registry.Secondary()

	for _, query := range buildQueries(subWork, depth) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.QueriesUsed = append(result.QueriesUsed, query)

		candidates := r.runQuery(ctx, primary, secondary, query)
		pool = append(pool, candidates...)
	}

	result.Candidates = dedupe(pool)
	result.Duration = time.Since(start)

	if len(result.Candidates) == 0 {
		result.Error = "all queries returned zero candidates"
		if r.metrics != nil {
			r.metrics.RecordStageFailure(cache.StageRetrieve)
		}
	}
	return result, nil
}

// runQuery executes one query against the primary source, falling back to
// the secondary source when the primary yields nothing.
func (r *Retriever) runQuery(ctx context.Context, primary, secondary catalog.CatalogSource, query string) []domain.Candidate {
	if primary != nil {
		if res := r.searchSource(ctx, primary, query); res != nil && len(res.Candidates) > 0 {
			return res.Candidates
		}
	}
	if secondary != nil {
		if res := r.searchSource(ctx, secondary, query); res != nil {
			return res.Candidates
		}
	}
	return nil
}

// searchSource runs one search, converting failures into a nil result.
// A query failure never aborts retrieval.
func (r *Retriever) searchSource(ctx context.Context, source catalog.CatalogSource, query string) *catalog.SearchResult {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.RecordSearchStarted(source.SourceName())
	}

	res, err := source.Search(ctx, catalog.SearchParams{
		Query:      query,
		MaxResults: r.config.MaxResultsPerQuery,
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordSearchFailed(source.SourceName(), time.Since(start).Seconds())
		}
		r.logger.Warn().
			Err(err).
			Str("source", source.SourceName()).
			Str("query", query).
			Msg("catalog search failed, continuing with remaining queries")
		return nil
	}

	if r.metrics != nil {
		r.metrics.RecordSearchCompleted(source.SourceName(), len(res.Candidates), time.Since(start).Seconds())
	}
	return res
}

// dedupe removes duplicate candidates by catalog code, preserving discovery
// order. When codes collide, the candidate with the longer snippet wins the
// slot because it carries more context for reranking. The result is capped
// at maxCandidates.
func dedupe(candidates []domain.Candidate) []domain.Candidate {
	byCode := make(map[string]int, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))

	for _, c := range candidates {
		if idx, ok := byCode[c.Code]; ok {
			if len(c.Snippet) > len(out[idx].Snippet) {
				out[idx] = c
			}
			continue
		}
		byCode[c.Code] = len(out)
		out = append(out, c)
	}

	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}
