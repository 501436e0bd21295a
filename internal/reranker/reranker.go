// Package reranker scores retrieved catalog candidates against their subwork
// and selects the best matches.
//
// Scoring is delegated to the classification service against an explicit,
// numerically weighted rubric. The service's output is never trusted: scores
// are clamped, confidence is coerced into the closed enumeration, and every
// returned code is validated against the candidate set that was passed in.
// A fabricated code is replaced with the UNKNOWN sentinel; this validation is
// unconditional and cannot be disabled.
package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stavmatch/boq-matching-service/internal/cache"
	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/llm"
	"github.com/stavmatch/boq-matching-service/internal/observability"
)

const (
	// maxPromptTokens bounds the ranking response size.
	maxPromptTokens = 2000

	// reviewScoreThreshold is the score below which a candidate is always
	// flagged for human review.
	reviewScoreThreshold = 50

	// DefaultTopN is the number of candidates kept per subwork when the
	// job settings do not specify one.
	DefaultTopN = 3
)

// Result is the outcome of reranking one subwork's candidates.
type Result struct {
	// TopCandidates are the selected candidates in rank order. Empty when
	// no candidates were passed in.
	TopCandidates []domain.Candidate `json:"top_candidates"`

	// Reasoning is the service's overall explanation, informational only.
	Reasoning string `json:"reasoning,omitempty"`

	// Degraded marks a fallback result produced without a usable ranking.
	// Degraded results are not cached.
	Degraded bool `json:"degraded,omitempty"`

	// DegradedReason records why the result is degraded.
	DegradedReason string `json:"degraded_reason,omitempty"`

	// Duration is the total reranking time.
	Duration time.Duration `json:"duration"`
}

// NeedsReview reports whether any selected candidate requires human review.
func (r *Result) NeedsReview() bool {
	for _, c := range r.TopCandidates {
		if c.NeedsReview {
			return true
		}
	}
	return false
}

// Reranker scores candidates via the classification service, with a
// transparent stage cache in front of the call.
type Reranker struct {
	client  llm.Client
	cache   *cache.Cache
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Reranker. The cache and metrics may be nil.
func New(client llm.Client, resultCache *cache.Cache, logger zerolog.Logger, metrics *observability.Metrics) *Reranker {
	return &Reranker{
		client:  client,
		cache:   resultCache,
		logger:  logger.With().Str("component", "reranker").Logger(),
		metrics: metrics,
	}
}

// rawResponse is the untrusted JSON contract returned by the service.
type rawResponse struct {
	TopCandidates []rawCandidate `json:"top_candidates"`
	Reasoning     string         `json:"reasoning"`
}

type rawCandidate struct {
	Rank        int    `json:"rank"`
	Code        string `json:"code"`
	Score       int    `json:"score"`
	Confidence  string `json:"confidence"`
	Reason      string `json:"reason"`
	Evidence    string `json:"evidence"`
	NeedsReview bool   `json:"needs_review"`
}

// Rerank scores the candidates against the subwork and returns the top
// matches. Zero input candidates short-circuits to an empty result without
// an external call. Any call or parse failure yields a single UNKNOWN
// fallback candidate rather than an error.
func (r *Reranker) Rerank(ctx context.Context, subWork domain.SubWork, candidates []domain.Candidate, topN int) *Result {
	start := time.Now()

	if topN <= 0 {
		topN = DefaultTopN
	}

	if len(candidates) == 0 {
		return &Result{
			TopCandidates: []domain.Candidate{},
			Reasoning:     "no candidates retrieved, nothing to rank",
			Duration:      time.Since(start),
		}
	}

	key := cache.RerankKey(subWork.Text, candidates, topN)
	if r.cache != nil {
		var cached Result
		if r.cache.GetJSON(ctx, key, cache.StageRerank, &cached) {
			return &cached
		}
	}

	result := r.rank(ctx, subWork, candidates, topN)
	result.Duration = time.Since(start)

	if r.cache != nil && !result.Degraded {
		r.cache.PutJSON(ctx, key, cache.StageRerank, result)
	}
	return result
}

func (r *Reranker) rank(ctx context.Context, subWork domain.SubWork, candidates []domain.Candidate, topN int) *Result {
	start := time.Now()

	resp, err := r.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		User:      buildUserPrompt(subWork, candidates, topN),
		MaxTokens: maxPromptTokens,
	})
	if err != nil {
		return r.fallback(err)
	}

	if r.metrics != nil {
		r.metrics.RecordLLMRequest("rerank", resp.Model, time.Since(start).Seconds(), resp.InputTokens, resp.OutputTokens)
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &raw); err != nil {
		return r.fallback(fmt.Errorf("ranking response did not parse: %w", err))
	}

	return r.validate(raw, candidates, topN)
}

// validate normalizes the untrusted ranking into trusted candidates. Catalog
// fields always come from the input candidate set, never from the service.
func (r *Reranker) validate(raw rawResponse, candidates []domain.Candidate, topN int) *Result {
	byCode := make(map[string]domain.Candidate, len(candidates))
	for _, c := range candidates {
		byCode[c.Code] = c
	}

	result := &Result{Reasoning: raw.Reasoning}

	ranked := raw.TopCandidates
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	for _, rc := range ranked {
		// The hard rule in the prompt allows an explicit UNKNOWN answer
		// when nothing scores above the floor.
		if rc.Code == domain.UnknownCandidateCode {
			reason := rc.Reason
			if reason == "" {
				reason = "no candidate scored above the match floor"
			}
			result.TopCandidates = append(result.TopCandidates, domain.UnknownCandidate(reason))
			continue
		}

		source, known := byCode[rc.Code]
		if !known {
			r.logger.Warn().
				Str("code", rc.Code).
				Msg("ranking returned a code outside the candidate set, replacing with sentinel")
			if r.metrics != nil {
				r.metrics.RecordStageFailure(cache.StageRerank)
			}
			result.TopCandidates = append(result.TopCandidates,
				domain.UnknownCandidate(fmt.Sprintf("ranking fabricated code %q not present in the retrieved candidates", rc.Code)))
			continue
		}

		score := clampScore(rc.Score)
		confidence := domain.ParseConfidence(rc.Confidence)

		reason := rc.Reason
		if rc.Evidence != "" {
			reason = reason + " [" + rc.Evidence + "]"
		}

		candidate := source
		candidate.Score = &score
		candidate.Confidence = confidence
		candidate.Reason = reason
		candidate.NeedsReview = rc.NeedsReview

		// Low confidence or a sub-threshold score always requires review,
		// regardless of what the service returned.
		if confidence == domain.ConfidenceLow || score < reviewScoreThreshold {
			candidate.NeedsReview = true
		}

		result.TopCandidates = append(result.TopCandidates, candidate)
	}

	if len(result.TopCandidates) == 0 {
		return r.fallback(fmt.Errorf("ranking returned no candidates"))
	}
	return result
}

// fallback builds the degraded single-UNKNOWN result used when ranking is
// unavailable.
func (r *Reranker) fallback(err error) *Result {
	r.logger.Warn().Err(err).Msg("rerank degraded to unknown candidate")
	if r.metrics != nil {
		r.metrics.RecordStageFailure(cache.StageRerank)
	}

	return &Result{
		TopCandidates:  []domain.Candidate{domain.UnknownCandidate(fmt.Sprintf("ranking failed: %v", err))},
		Degraded:       true,
		DegradedReason: err.Error(),
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
