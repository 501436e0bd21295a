// Package pipeline runs the per-item matching sequence: normalize the line,
// split it into subworks, then retrieve and rerank catalog candidates for
// each subwork in index order.
//
// Stage-local failures surface as degraded data (fallback splits, UNKNOWN
// candidates, retrieval error notes), never as returned errors; only context
// cancellation aborts processing. The coordinator persists a status write
// after each stage through the OnStage callback.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/normalizer"
	"github.com/stavmatch/boq-matching-service/internal/observability"
	"github.com/stavmatch/boq-matching-service/internal/reranker"
	"github.com/stavmatch/boq-matching-service/internal/retriever"
	"github.com/stavmatch/boq-matching-service/internal/splitter"
)

// WorkSplitter classifies a normalized line into subworks.
type WorkSplitter interface {
	Split(ctx context.Context, norm normalizer.Result, maxSubWorks int) *splitter.Result
}

// CandidateRetriever finds catalog candidates for one subwork.
type CandidateRetriever interface {
	Retrieve(ctx context.Context, subWork domain.SubWork, depth domain.SearchDepth) (*retriever.Result, error)
}

// CandidateReranker scores retrieved candidates for one subwork.
type CandidateReranker interface {
	Rerank(ctx context.Context, subWork domain.SubWork, candidates []domain.Candidate, topN int) *reranker.Result
}

// OnStage is invoked after each completed pipeline stage so the coordinator
// can persist the item's progress. A nil callback skips status writes.
type OnStage func(ctx context.Context, status domain.ItemStatus) error

// Outcome is the full result of processing one item.
type Outcome struct {
	// NormalizedText is the cleaned line text.
	NormalizedText string

	// DetectedType is the SINGLE/COMPOSITE/UNKNOWN classification.
	DetectedType domain.WorkType

	// SubWorks is the ordered decomposition.
	SubWorks []domain.SubWork

	// Results holds one entry per subwork, in index order.
	Results []domain.SubWorkResult

	// NeedsReview aggregates the per-subwork review flags: any review
	// flag, any retrieval error, or an all-empty match set marks the
	// whole item for review.
	NeedsReview bool

	// Degraded lists the stage degradations hit during processing.
	Degraded []string
}

// FinalStatus is done unless anything undermined trust in the result.
func (o *Outcome) FinalStatus() domain.ItemStatus {
	if o.NeedsReview {
		return domain.ItemStatusNeedsReview
	}
	return domain.ItemStatusDone
}

// Processor executes the matching pipeline for single items.
type Processor struct {
	splitter  WorkSplitter
	retriever CandidateRetriever
	reranker  CandidateReranker
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// New creates a Processor. Metrics may be nil.
func New(split WorkSplitter, retrieve CandidateRetriever, rerank CandidateReranker, logger zerolog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		splitter:  split,
		retriever: retrieve,
		reranker:  rerank,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		metrics:   metrics,
	}
}

// Process runs the full pipeline for one item. onStage is called after the
// normalize, split and retrieve/rerank stages; the caller decides the final
// done/needs_review write from the returned outcome.
//
// Process returns an error only on context cancellation or a failed status
// write; every stage-local failure degrades into the outcome instead.
func (p *Processor) Process(ctx context.Context, item *domain.BatchItem, settings domain.JobSettings, onStage OnStage) (*Outcome, error) {
	settings.ApplyDefaults()
	logger := p.logger.With().Int("line_no", item.LineNo).Logger()

	// Stage 1: normalize. Pure, cannot fail.
	start := time.Now()
	norm := normalizer.Normalize(item.OriginalText, item.Context)
	p.recordStage("normalize", start)
	if err := p.notify(ctx, onStage, domain.ItemStatusParsed); err != nil {
		return nil, err
	}

	outcome := &Outcome{NormalizedText: norm.NormalizedText}

	// Stage 2: split.
	start = time.Now()
	splitResult := p.splitter.Split(ctx, norm, settings.MaxSubWorks)
	p.recordStage("split", start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome.DetectedType = splitResult.DetectedType
	outcome.SubWorks = splitResult.SubWorks
	if splitResult.Degraded {
		outcome.Degraded = append(outcome.Degraded, "split: "+splitResult.DegradedReason)
	}
	if p.metrics != nil {
		p.metrics.RecordSubWorks(len(splitResult.SubWorks))
	}
	if err := p.notify(ctx, onStage, domain.ItemStatusSplit); err != nil {
		return nil, err
	}

	// Stage 3: retrieve and rerank each subwork in index order.
	for _, subWork := range splitResult.SubWorks {
		result, err := p.processSubWork(ctx, subWork, settings, outcome)
		if err != nil {
			return nil, err
		}
		outcome.Results = append(outcome.Results, *result)
	}
	if err := p.notify(ctx, onStage, domain.ItemStatusRetrieved); err != nil {
		return nil, err
	}
	if err := p.notify(ctx, onStage, domain.ItemStatusRanked); err != nil {
		return nil, err
	}

	outcome.NeedsReview = aggregateNeedsReview(outcome.Results)

	logger.Debug().
		Str("detected_type", string(outcome.DetectedType)).
		Int("sub_works", len(outcome.SubWorks)).
		Bool("needs_review", outcome.NeedsReview).
		Msg("item pipeline finished")
	return outcome, nil
}

func (p *Processor) processSubWork(ctx context.Context, subWork domain.SubWork, settings domain.JobSettings, outcome *Outcome) (*domain.SubWorkResult, error) {
	start := time.Now()
	retrieved, err := p.retriever.Retrieve(ctx, subWork, settings.SearchDepth)
	p.recordStage("retrieve", start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	ranked := p.reranker.Rerank(ctx, subWork, retrieved.Candidates, settings.CandidatesPerWork)
	p.recordStage("rerank", start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ranked.Degraded {
		outcome.Degraded = append(outcome.Degraded, "rerank: "+ranked.DegradedReason)
	}

	return &domain.SubWorkResult{
		SubWorkIndex:   subWork.Index,
		Candidates:     ranked.TopCandidates,
		QueriesUsed:    retrieved.QueriesUsed,
		Reasoning:      ranked.Reasoning,
		RetrievalError: retrieved.Error,
		NeedsReview:    ranked.NeedsReview(),
	}, nil
}

// aggregateNeedsReview implements the OR semantics over subwork results:
// under-confidence in any one subwork invalidates the whole line.
func aggregateNeedsReview(results []domain.SubWorkResult) bool {
	if len(results) == 0 {
		return true
	}

	allEmpty := true
	for _, r := range results {
		if r.NeedsReview || r.RetrievalError != "" {
			return true
		}
		for _, c := range r.Candidates {
			if c.NeedsReview || c.Confidence == domain.ConfidenceLow {
				return true
			}
		}
		if len(r.Candidates) > 0 {
			allEmpty = false
		}
	}
	return allEmpty
}

func (p *Processor) notify(ctx context.Context, onStage OnStage, status domain.ItemStatus) error {
	if onStage == nil {
		return nil
	}
	return onStage(ctx, status)
}

func (p *Processor) recordStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordStageDuration(stage, time.Since(start).Seconds())
	}
}
