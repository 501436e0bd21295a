// Package workflows defines the Temporal workflow driving a batch matching
// job: bounded item fan-out, cooperative pause, partial-failure isolation,
// and end-of-run job status transitions.
package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/events"
	bmtemporal "github.com/stavmatch/boq-matching-service/internal/temporal"
	"github.com/stavmatch/boq-matching-service/internal/temporal/activities"
)

// Re-export signal/query name constants from the parent temporal package for
// convenience. These are defined in the parent package so the server layer
// can reference them without depending on the workflows package.
const (
	SignalPause   = bmtemporal.SignalPause
	SignalCancel  = bmtemporal.SignalCancel
	QueryProgress = bmtemporal.QueryProgress
)

// Activity timeout constants.
const (
	// itemActivityTimeout bounds one item's full pipeline pass, including
	// classification calls and catalog searches with their retries.
	itemActivityTimeout = 15 * time.Minute

	// itemHeartbeatTimeout detects stuck item activities; the activity
	// heartbeats on every stage transition.
	itemHeartbeatTimeout = 3 * time.Minute

	statusActivityTimeout = 30 * time.Second
)

// BatchWorkflowInput is an alias for the shared input type defined in the
// parent temporal package.
type BatchWorkflowInput = bmtemporal.BatchWorkflowInput

// BatchWorkflowResult contains the final counters of one batch matching run.
type BatchWorkflowResult struct {
	// JobID is the batch job this run processed.
	JobID uuid.UUID

	// Status is the job status the run ended with.
	Status string

	// TotalItems is the number of items selected for the run.
	TotalItems int

	// Processed is the number of items finished in the run.
	Processed int

	// Errored is the number of items that ended the run in error.
	Errored int

	// NeedsReview is the number of items flagged for review in the run.
	NeedsReview int

	// Paused reports whether the run drained after a pause signal.
	Paused bool

	// Duration is the total run time in seconds.
	Duration float64
}

// BatchMatchWorkflow processes the pending items of a batch job.
//
// Items are dispatched to the ProcessItem activity through a bounded
// in-flight window (JobSettings.Concurrency, default 3). A pause signal
// stops new dispatches; the in-flight items drain, the job is left paused,
// and the workflow exits. Remaining items stay queued for a resume run,
// which is a fresh workflow execution with Resume set. Per-item failures
// are recorded as item errors by the activity and never abort siblings.
//
// Progress is queryable via the "progress" query; cancellation via the
// "cancel" signal cancels in-flight activities and fails the job.
func BatchMatchWorkflow(ctx workflow.Context, input BatchWorkflowInput) (*BatchWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	startTime := workflow.Now(ctx)
	workflowInfo := workflow.GetInfo(ctx)

	progress := &bmtemporal.WorkflowProgress{Phase: "initializing"}
	err := workflow.SetQueryHandler(ctx, QueryProgress, func() (*bmtemporal.WorkflowProgress, error) {
		return progress, nil
	})
	if err != nil {
		logger.Error("failed to register progress query handler", "error", err)
		return nil, fmt.Errorf("register query handler: %w", err)
	}

	// Cooperative pause: the flag is checked before each item dispatch.
	paused := false
	pauseCh := workflow.GetSignalChannel(ctx, SignalPause)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			var signal bmtemporal.PauseRequest
			if !pauseCh.Receive(gCtx, &signal) {
				return
			}
			logger.Info("received pause signal", "requestedBy", signal.RequestedBy, "reason", signal.Reason)
			paused = true
			progress.Paused = true
		}
	})

	cancelCtx, cancelFunc := workflow.WithCancel(ctx)
	cancelSignalCh := workflow.GetSignalChannel(ctx, SignalCancel)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		cancelSignalCh.Receive(gCtx, nil)
		logger.Info("received cancel signal")
		cancelFunc()
	})

	// Activity nil-pointer variables for method references.
	var jobAct *activities.JobActivities
	var itemAct *activities.ItemActivities
	var eventAct *activities.EventActivities

	statusCtx := workflow.WithActivityOptions(cancelCtx, workflow.ActivityOptions{
		StartToCloseTimeout: statusActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	})

	itemCtx := workflow.WithActivityOptions(cancelCtx, workflow.ActivityOptions{
		StartToCloseTimeout: itemActivityTimeout,
		HeartbeatTimeout:    itemHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	// Cleanup activities run on a disconnected context so a cancelled run
	// can still record its final job status and events.
	disconnectedCtx, _ := workflow.NewDisconnectedContext(ctx)
	cleanupCtx := workflow.WithActivityOptions(disconnectedCtx, workflow.ActivityOptions{
		StartToCloseTimeout: statusActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	})

	publishEvent := func(eventType, errorMsg string) {
		// Fire-and-forget: lifecycle events never fail the run.
		_ = workflow.ExecuteActivity(cleanupCtx, eventAct.PublishJobEvent, activities.PublishJobEventInput{
			EventType:    eventType,
			JobID:        input.JobID,
			ErrorMessage: errorMsg,
		}).Get(cleanupCtx, nil)
	}

	handleFailure := func(originalErr error) (*BatchWorkflowResult, error) {
		logger.Error("batch workflow failed", "jobID", input.JobID, "error", originalErr)

		_ = workflow.ExecuteActivity(cleanupCtx, jobAct.FinishJob, activities.FinishJobInput{
			JobID:        input.JobID,
			ErrorMessage: originalErr.Error(),
		}).Get(cleanupCtx, nil)
		publishEvent(events.EventJobFailed, originalErr.Error())

		return nil, originalErr
	}

	// Select the run plan and mark the job running.
	var plan activities.StartJobRunOutput
	err = workflow.ExecuteActivity(statusCtx, jobAct.StartJobRun, activities.StartJobRunInput{
		JobID:      input.JobID,
		WorkflowID: workflowInfo.WorkflowExecution.ID,
		Resume:     input.Resume,
	}).Get(cancelCtx, &plan)
	if err != nil {
		return handleFailure(fmt.Errorf("start job run: %w", err))
	}

	progress.Phase = "processing"
	progress.TotalItems = len(plan.ItemIDs)
	publishEvent(events.EventJobStarted, "")

	logger.Info("dispatching items",
		"jobID", input.JobID,
		"items", len(plan.ItemIDs),
		"concurrency", plan.Settings.Concurrency,
		"resume", input.Resume,
	)

	// Bounded fan-out over the pending items. Counters are mutated only
	// from workflow goroutines, which the SDK schedules cooperatively.
	inFlight := 0
	result := &BatchWorkflowResult{JobID: input.JobID, TotalItems: len(plan.ItemIDs)}

	for _, itemID := range plan.ItemIDs {
		awaitErr := workflow.Await(cancelCtx, func() bool {
			return inFlight < plan.Settings.Concurrency || paused
		})
		if awaitErr != nil || paused {
			break
		}

		itemID := itemID
		inFlight++
		progress.Dispatched++
		progress.InFlight = inFlight

		workflow.Go(cancelCtx, func(gCtx workflow.Context) {
			var output activities.ProcessItemOutput
			actErr := workflow.ExecuteActivity(itemCtx, itemAct.ProcessItem, activities.ProcessItemInput{
				ItemID:   itemID,
				JobID:    input.JobID,
				Settings: plan.Settings,
			}).Get(gCtx, &output)

			inFlight--
			progress.InFlight = inFlight
			progress.Processed++
			result.Processed++

			switch {
			case actErr != nil:
				// Activity-level failure after retries; the item row was
				// already marked errored by the activity where possible.
				logger.Error("item activity failed", "itemID", itemID, "error", actErr)
				progress.Errored++
				result.Errored++
			case output.Status == domain.ItemStatusError:
				progress.Errored++
				result.Errored++
			case output.NeedsReview:
				progress.NeedsReview++
				result.NeedsReview++
			}
		})
	}

	// Drain the in-flight items before finishing, even when paused or
	// cancelled.
	progress.Phase = "draining"
	if awaitErr := workflow.Await(ctx, func() bool { return inFlight == 0 }); awaitErr != nil {
		return handleFailure(fmt.Errorf("drain in-flight items: %w", awaitErr))
	}

	cancelled := cancelCtx.Err() != nil && !paused

	result.Paused = paused
	result.Duration = workflow.Now(ctx).Sub(startTime).Seconds()

	switch {
	case cancelled:
		return handleFailure(fmt.Errorf("workflow cancelled after %d of %d items", result.Processed, result.TotalItems))

	case paused:
		progress.Phase = "paused"
		err = workflow.ExecuteActivity(cleanupCtx, jobAct.FinishJob, activities.FinishJobInput{
			JobID:  input.JobID,
			Paused: true,
		}).Get(cleanupCtx, nil)
		if err != nil {
			return nil, fmt.Errorf("finish job as paused: %w", err)
		}
		publishEvent(events.EventJobPaused, "")
		result.Status = string(domain.JobStatusPaused)

	default:
		progress.Phase = "completed"
		err = workflow.ExecuteActivity(statusCtx, jobAct.FinishJob, activities.FinishJobInput{
			JobID: input.JobID,
		}).Get(cancelCtx, nil)
		if err != nil {
			return handleFailure(fmt.Errorf("finish job: %w", err))
		}
		publishEvent(events.EventJobCompleted, "")
		result.Status = string(domain.JobStatusCompleted)
	}

	logger.Info("batch workflow finished",
		"jobID", input.JobID,
		"status", result.Status,
		"processed", result.Processed,
		"errored", result.Errored,
		"needsReview", result.NeedsReview,
	)
	return result, nil
}
