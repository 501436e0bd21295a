package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/observability"
	"github.com/stavmatch/boq-matching-service/internal/pipeline"
	"github.com/stavmatch/boq-matching-service/internal/repository"
)

// ItemProcessor runs the matching pipeline for one item. Implemented by
// pipeline.Processor; the interface keeps activity tests free of the full
// pipeline stack.
type ItemProcessor interface {
	Process(ctx context.Context, item *domain.BatchItem, settings domain.JobSettings, onStage pipeline.OnStage) (*pipeline.Outcome, error)
}

// ItemActivities provides Temporal activities for per-item pipeline
// execution. Methods on this struct are registered as Temporal activities
// via the worker.
type ItemActivities struct {
	itemRepo  repository.ItemRepository
	jobRepo   repository.JobRepository
	processor ItemProcessor
	metrics   *observability.Metrics
}

// NewItemActivities creates a new ItemActivities instance with the given
// dependencies. The metrics parameter may be nil.
func NewItemActivities(itemRepo repository.ItemRepository, jobRepo repository.JobRepository, processor ItemProcessor, metrics *observability.Metrics) *ItemActivities {
	return &ItemActivities{
		itemRepo:  itemRepo,
		jobRepo:   jobRepo,
		processor: processor,
		metrics:   metrics,
	}
}

// ProcessItem runs the full matching pipeline for one batch item and
// persists the outcome.
//
// A pipeline failure is recorded as the item's error status and reported in
// the output, not returned as an activity error, so one broken line never
// aborts its siblings. Only context cancellation propagates as an error.
func (a *ItemActivities) ProcessItem(ctx context.Context, input ProcessItemInput) (*ProcessItemOutput, error) {
	logger := activity.GetLogger(ctx)
	start := time.Now()

	item, err := a.itemRepo.Get(ctx, input.ItemID)
	if err != nil {
		logger.Error("failed to load item", "itemID", input.ItemID, "error", err)
		return a.recordError(ctx, input, start, err)
	}

	logger.Info("processing item", "itemID", item.ID, "lineNo", item.LineNo)

	onStage := func(stageCtx context.Context, status domain.ItemStatus) error {
		activity.RecordHeartbeat(stageCtx, string(status))
		return a.itemRepo.UpdateStatus(stageCtx, item.ID, status, "")
	}

	outcome, err := a.processor.Process(ctx, item, input.Settings, onStage)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		logger.Error("item pipeline failed", "itemID", item.ID, "error", err)
		return a.recordError(ctx, input, start, err)
	}

	item.NormalizedText = outcome.NormalizedText
	item.DetectedType = outcome.DetectedType
	item.SubWorks = outcome.SubWorks
	item.Results = outcome.Results
	item.Status = outcome.FinalStatus()
	item.ErrorMessage = ""

	if err := a.itemRepo.SaveResult(ctx, item); err != nil {
		logger.Error("failed to save item result", "itemID", item.ID, "error", err)
		return a.recordError(ctx, input, start, err)
	}

	needsReview := 0
	if outcome.NeedsReview {
		needsReview = 1
	}
	if err := a.jobRepo.IncrementCounters(ctx, input.JobID, 1, 0, needsReview); err != nil {
		logger.Error("failed to increment job counters", "jobID", input.JobID, "error", err)
	}

	if a.metrics != nil {
		a.metrics.RecordItemProcessed(string(item.Status), time.Since(start).Seconds())
	}

	logger.Info("item processed",
		"itemID", item.ID,
		"lineNo", item.LineNo,
		"status", item.Status,
		"subWorks", len(outcome.SubWorks),
	)

	return &ProcessItemOutput{
		Status:      item.Status,
		NeedsReview: outcome.NeedsReview,
	}, nil
}

// recordError marks the item errored, bumps the job's error counter, and
// reports the failure through the output instead of an activity error.
func (a *ItemActivities) recordError(ctx context.Context, input ProcessItemInput, start time.Time, cause error) (*ProcessItemOutput, error) {
	logger := activity.GetLogger(ctx)

	if err := a.itemRepo.UpdateStatus(ctx, input.ItemID, domain.ItemStatusError, cause.Error()); err != nil {
		logger.Error("failed to mark item errored", "itemID", input.ItemID, "error", err)
	}
	if err := a.jobRepo.IncrementCounters(ctx, input.JobID, 1, 1, 0); err != nil {
		logger.Error("failed to increment job counters", "jobID", input.JobID, "error", err)
	}
	if a.metrics != nil {
		a.metrics.RecordItemProcessed(string(domain.ItemStatusError), time.Since(start).Seconds())
	}

	return &ProcessItemOutput{
		Status:       domain.ItemStatusError,
		ErrorMessage: cause.Error(),
	}, nil
}
