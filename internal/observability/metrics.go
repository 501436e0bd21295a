package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the BOQ matching service.
// Metrics are organized by subsystem: jobs, items, pipeline stages, cache,
// catalog sources, and LLM operations. All counters and histograms are
// registered via promauto for automatic registration with the default
// Prometheus registry.
type Metrics struct {
	// JobsStarted counts the total number of batch matching jobs initiated.
	JobsStarted prometheus.Counter

	// JobsCompleted counts the total number of jobs that finished successfully.
	JobsCompleted prometheus.Counter

	// JobsFailed counts the total number of jobs that ended in failure.
	JobsFailed prometheus.Counter

	// JobsPaused counts the total number of jobs paused by a user.
	JobsPaused prometheus.Counter

	// JobsResumed counts the total number of paused jobs resumed.
	JobsResumed prometheus.Counter

	// JobDuration observes the end-to-end duration of jobs in seconds.
	JobDuration prometheus.Histogram

	// ItemsProcessed counts processed items, labeled by final status.
	ItemsProcessed *prometheus.CounterVec

	// ItemDuration observes per-item pipeline duration in seconds.
	ItemDuration prometheus.Histogram

	// SubWorksPerItem observes the distribution of subwork counts per item.
	SubWorksPerItem prometheus.Histogram

	// StageDuration observes per-stage duration in seconds, labeled by stage.
	StageDuration *prometheus.HistogramVec

	// StageFailures counts stage-level failures, labeled by stage.
	StageFailures *prometheus.CounterVec

	// CacheRequests counts cache lookups, labeled by stage and result (hit, miss, expired).
	CacheRequests *prometheus.CounterVec

	// CacheSwept counts entries removed by the expiry sweep.
	CacheSwept prometheus.Counter

	// SearchesStarted counts catalog searches initiated, labeled by source.
	SearchesStarted *prometheus.CounterVec

	// SearchesCompleted counts successful catalog searches, labeled by source.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts failed catalog searches, labeled by source.
	SearchesFailed *prometheus.CounterVec

	// SearchDuration observes catalog search duration in seconds, labeled by source.
	SearchDuration *prometheus.HistogramVec

	// CandidatesPerSearch observes the distribution of candidates returned per search, labeled by source.
	CandidatesPerSearch *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from catalog sources, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds, labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Jobs
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of batch matching jobs started",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of batch matching jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of batch matching jobs that failed",
		}),
		JobsPaused: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_paused_total",
			Help:      "Total number of batch matching jobs paused",
		}),
		JobsResumed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_resumed_total",
			Help:      "Total number of batch matching jobs resumed",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of batch matching jobs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		// Items
		ItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Total number of items processed by final status",
		}, []string{"status"}),
		ItemDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Duration of per-item pipeline runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		SubWorksPerItem: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sub_works_per_item",
			Help:      "Number of subworks extracted per item",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),

		// Stages
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of pipeline stage failures",
		}, []string{"stage"}),

		// Cache
		CacheRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of cache lookups by stage and result",
		}, []string{"stage", "result"}),
		CacheSwept: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_swept_total",
			Help:      "Total number of expired cache entries removed by sweeps",
		}),

		// Catalog searches
		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of catalog searches started by source",
		}, []string{"source"}),
		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of catalog searches completed by source",
		}, []string{"source"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of catalog searches that failed by source",
		}, []string{"source"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of catalog searches in seconds by source",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		CandidatesPerSearch: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_per_search",
			Help:      "Number of candidates returned per catalog search by source",
			Buckets:   []float64{0, 1, 5, 10, 20, 30, 50},
		}, []string{"source"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from catalog sources",
		}, []string{"source"}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by operation",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests by operation",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used by LLM operations",
		}, []string{"operation", "model", "token_type"}),
	}
}

// RecordJobStarted records that a job has started.
func (m *Metrics) RecordJobStarted() {
	m.JobsStarted.Inc()
}

// RecordJobCompleted records that a job has completed.
func (m *Metrics) RecordJobCompleted(durationSeconds float64) {
	m.JobsCompleted.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobFailed records that a job has failed.
func (m *Metrics) RecordJobFailed(durationSeconds float64) {
	m.JobsFailed.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobPaused records that a job has been paused.
func (m *Metrics) RecordJobPaused() {
	m.JobsPaused.Inc()
}

// RecordJobResumed records that a paused job has been resumed.
func (m *Metrics) RecordJobResumed() {
	m.JobsResumed.Inc()
}

// RecordItemProcessed records a finished item with its final status.
func (m *Metrics) RecordItemProcessed(status string, durationSeconds float64) {
	m.ItemsProcessed.WithLabelValues(status).Inc()
	m.ItemDuration.Observe(durationSeconds)
}

// RecordSubWorks records the subwork count for a split item.
func (m *Metrics) RecordSubWorks(count int) {
	m.SubWorksPerItem.Observe(float64(count))
}

// RecordStageDuration records the duration of a pipeline stage.
func (m *Metrics) RecordStageDuration(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageFailure records a pipeline stage failure.
func (m *Metrics) RecordStageFailure(stage string) {
	m.StageFailures.WithLabelValues(stage).Inc()
}

// RecordCacheHit records a cache hit for a stage.
func (m *Metrics) RecordCacheHit(stage string) {
	m.CacheRequests.WithLabelValues(stage, "hit").Inc()
}

// RecordCacheMiss records a cache miss for a stage.
func (m *Metrics) RecordCacheMiss(stage string) {
	m.CacheRequests.WithLabelValues(stage, "miss").Inc()
}

// RecordCacheExpired records a lazily expired cache entry for a stage.
func (m *Metrics) RecordCacheExpired(stage string) {
	m.CacheRequests.WithLabelValues(stage, "expired").Inc()
}

// RecordCacheSwept records entries removed by an expiry sweep.
func (m *Metrics) RecordCacheSwept(count int) {
	m.CacheSwept.Add(float64(count))
}

// RecordSearchStarted records that a catalog search has started.
func (m *Metrics) RecordSearchStarted(source string) {
	m.SearchesStarted.WithLabelValues(source).Inc()
}

// RecordSearchCompleted records that a catalog search has completed.
func (m *Metrics) RecordSearchCompleted(source string, candidateCount int, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.CandidatesPerSearch.WithLabelValues(source).Observe(float64(candidateCount))
}

// RecordSearchFailed records that a catalog search has failed.
func (m *Metrics) RecordSearchFailed(source string, durationSeconds float64) {
	m.SearchesFailed.WithLabelValues(source).Inc()
	m.SearchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordSourceRateLimited records a rate limit response from a catalog source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}
