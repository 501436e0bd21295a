// Package splitter decides whether a BOQ line describes one atomic work or a
// composite of several, and decomposes composites into discrete subworks.
//
// The decision is delegated to an external classification service whose
// output is treated as an untrusted oracle: the response is parsed against a
// strict JSON contract and repaired field by field rather than rejected
// wholesale. Any call or parse failure degrades to a SINGLE result built from
// the normalized text, so the pipeline always has at least one subwork to
// proceed with.
package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stavmatch/boq-matching-service/internal/cache"
	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/llm"
	"github.com/stavmatch/boq-matching-service/internal/normalizer"
	"github.com/stavmatch/boq-matching-service/internal/observability"
)

// maxPromptTokens bounds the classification response size.
const maxPromptTokens = 1500

// Result is the outcome of a split decision.
type Result struct {
	// DetectedType is SINGLE, COMPOSITE or UNKNOWN.
	DetectedType domain.WorkType `json:"detected_type"`

	// SubWorks are the decomposed operations in classifier order,
	// reindexed 1..n. Never empty.
	SubWorks []domain.SubWork `json:"sub_works"`

	// Reasoning is the classifier's explanation, informational only.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence grades the decision. Truncation caps it at medium.
	Confidence domain.Confidence `json:"confidence"`

	// Degraded marks a fallback result produced without a usable
	// classification. Degraded results are not cached.
	Degraded bool `json:"degraded,omitempty"`

	// DegradedReason records why the result is degraded.
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// Splitter classifies normalized BOQ lines via the classification service,
// with a transparent stage cache in front of the call.
type Splitter struct {
	client  llm.Client
	cache   *cache.Cache
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Splitter. The cache and metrics may be nil.
func New(client llm.Client, resultCache *cache.Cache, logger zerolog.Logger, metrics *observability.Metrics) *Splitter {
	return &Splitter{
		client:  client,
		cache:   resultCache,
		logger:  logger.With().Str("component", "splitter").Logger(),
		metrics: metrics,
	}
}

// rawResponse is the untrusted JSON contract returned by the classification
// service. Every field is optional and repaired individually.
type rawResponse struct {
	DetectedType string       `json:"detected_type"`
	SubWorks     []rawSubWork `json:"sub_works"`
	Reasoning    string       `json:"reasoning"`
	Confidence   string       `json:"confidence"`
}

type rawSubWork struct {
	Index     int      `json:"index"`
	Text      string   `json:"text"`
	Operation string   `json:"operation"`
	Keywords  []string `json:"keywords"`
}

// Split classifies the normalized line and returns its decomposition.
// maxSubWorks caps the decomposition; excess subworks are dropped in
// classifier order and the confidence is downgraded.
//
// Split never fails: a call or parse error yields a degraded SINGLE result
// built from the normalized text.
func (s *Splitter) Split(ctx context.Context, norm normalizer.Result, maxSubWorks int) *Result {
	if maxSubWorks <= 0 {
		maxSubWorks = domain.DefaultMaxSubWorks
	}

	key := cache.SplitKey(norm.NormalizedText, maxSubWorks)
	if s.cache != nil {
		var cached Result
		if s.cache.GetJSON(ctx, key, cache.StageSplit, &cached) {
			return &cached
		}
	}

	result := s.classify(ctx, norm, maxSubWorks)

	if s.cache != nil && !result.Degraded {
		s.cache.PutJSON(ctx, key, cache.StageSplit, result)
	}
	return result
}

func (s *Splitter) classify(ctx context.Context, norm normalizer.Result, maxSubWorks int) *Result {
	start := time.Now()

	resp, err := s.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		User:      buildUserPrompt(norm, maxSubWorks),
		MaxTokens: maxPromptTokens,
	})
	if err != nil {
		s.recordFailure(err)
		return s.fallback(norm, fmt.Sprintf("classification call failed: %v", err))
	}

	if s.metrics != nil {
		s.metrics.RecordLLMRequest("split", resp.Model, time.Since(start).Seconds(), resp.InputTokens, resp.OutputTokens)
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &raw); err != nil {
		s.recordFailure(err)
		return s.fallback(norm, fmt.Sprintf("classification response did not parse: %v", err))
	}

	return s.repair(raw, norm, maxSubWorks)
}

// repair coerces the untrusted response into the closed contract, defaulting
// malformed fields instead of rejecting the whole response.
func (s *Splitter) repair(raw rawResponse, norm normalizer.Result, maxSubWorks int) *Result {
	result := &Result{
		DetectedType: domain.ParseWorkType(raw.DetectedType),
		Reasoning:    raw.Reasoning,
		Confidence:   domain.ParseConfidence(raw.Confidence),
	}

	subWorks := make([]domain.SubWork, 0, len(raw.SubWorks))
	for _, sw := range raw.SubWorks {
		text := strings.TrimSpace(sw.Text)
		if text == "" {
			text = norm.NormalizedText
		}
		keywords := sw.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		subWorks = append(subWorks, domain.SubWork{
			Text:      text,
			Operation: domain.ParseOperation(sw.Operation),
			Keywords:  keywords,
		})
	}

	// The classifier can return zero subworks even for a valid type.
	// Synthesize one from the normalized text so retrieval has input.
	if len(subWorks) == 0 {
		subWorks = append(subWorks, s.subWorkFromNormalized(norm))
	}

	if len(subWorks) > maxSubWorks {
		s.logger.Debug().
			Int("returned", len(subWorks)).
			Int("max", maxSubWorks).
			Msg("truncating subworks over job limit")
		subWorks = subWorks[:maxSubWorks]
		// Truncation loses precision in both directions, so the result
		// lands on medium no matter what the classifier reported.
		result.Confidence = domain.ConfidenceMedium
	}

	for i := range subWorks {
		subWorks[i].Index = i + 1
	}
	result.SubWorks = subWorks
	return result
}

// fallback builds the degraded SINGLE result used when classification is
// unavailable.
func (s *Splitter) fallback(norm normalizer.Result, reason string) *Result {
	s.logger.Warn().Str("reason", reason).Msg("classification degraded to single work")

	sw := s.subWorkFromNormalized(norm)
	sw.Index = 1
	return &Result{
		DetectedType:   domain.WorkTypeSingle,
		SubWorks:       []domain.SubWork{sw},
		Confidence:     domain.ConfidenceLow,
		Degraded:       true,
		DegradedReason: reason,
	}
}

func (s *Splitter) subWorkFromNormalized(norm normalizer.Result) domain.SubWork {
	keywords := norm.Keywords()
	if keywords == nil {
		keywords = []string{}
	}
	return domain.SubWork{
		Index:     1,
		Text:      norm.NormalizedText,
		Operation: norm.Features.Operation,
		Keywords:  keywords,
	}
}

func (s *Splitter) recordFailure(err error) {
	if s.metrics != nil {
		s.metrics.RecordStageFailure(cache.StageSplit)
	}
	s.logger.Warn().Err(err).Msg("split stage failed")
}
