package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/observability"
	"github.com/stavmatch/boq-matching-service/internal/repository"
)

// JobActivities provides Temporal activities for job lifecycle transitions.
// Methods on this struct are registered as Temporal activities via the worker.
type JobActivities struct {
	jobRepo  repository.JobRepository
	itemRepo repository.ItemRepository
	metrics  *observability.Metrics
}

// NewJobActivities creates a new JobActivities instance with the given
// dependencies. The metrics parameter may be nil.
func NewJobActivities(jobRepo repository.JobRepository, itemRepo repository.ItemRepository, metrics *observability.Metrics) *JobActivities {
	return &JobActivities{
		jobRepo:  jobRepo,
		itemRepo: itemRepo,
		metrics:  metrics,
	}
}

// StartJobRun transitions the job to running, records the workflow ID, and
// selects the items this run will process.
//
// On a resume pass, items that ended the previous pass in error are first
// moved back to queued so the run re-selects them.
func (a *JobActivities) StartJobRun(ctx context.Context, input StartJobRunInput) (*StartJobRunOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("starting job run",
		"jobID", input.JobID,
		"workflowID", input.WorkflowID,
		"resume", input.Resume,
	)

	output := &StartJobRunOutput{}

	if input.Resume {
		reset, err := a.itemRepo.ResetErrored(ctx, input.JobID)
		if err != nil {
			return nil, fmt.Errorf("reset errored items: %w", err)
		}
		output.ResetCount = int(reset)
	}

	err := a.jobRepo.Update(ctx, input.JobID, func(job *domain.BatchJob) error {
		if job.Status.IsTerminal() {
			return fmt.Errorf("%w: job %s is already %s", domain.ErrInvalidTransition, job.ID, job.Status)
		}
		job.Status = domain.JobStatusRunning
		job.TemporalWorkflowID = input.WorkflowID
		job.ErrorMessage = ""
		if job.StartedAt == nil {
			now := time.Now().UTC()
			job.StartedAt = &now
		}
		output.Settings = job.Settings
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	output.Settings.ApplyDefaults()

	ids, err := a.itemRepo.ListPending(ctx, input.JobID, false)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	output.ItemIDs = ids

	if a.metrics != nil {
		if input.Resume {
			a.metrics.RecordJobResumed()
		} else {
			a.metrics.RecordJobStarted()
		}
	}

	logger.Info("job run started",
		"jobID", input.JobID,
		"pendingItems", len(ids),
		"resetItems", output.ResetCount,
	)
	return output, nil
}

// FinishJob transitions the job to its end-of-run status: paused when the
// run drained after a pause signal, failed when the run aborted, completed
// otherwise.
func (a *JobActivities) FinishJob(ctx context.Context, input FinishJobInput) error {
	logger := activity.GetLogger(ctx)

	status := domain.JobStatusCompleted
	switch {
	case input.ErrorMessage != "":
		status = domain.JobStatusFailed
	case input.Paused:
		status = domain.JobStatusPaused
	}
	logger.Info("finishing job run", "jobID", input.JobID, "status", status)

	var runDuration float64
	err := a.jobRepo.Update(ctx, input.JobID, func(job *domain.BatchJob) error {
		job.Status = status
		job.ErrorMessage = input.ErrorMessage
		if status.IsTerminal() {
			now := time.Now().UTC()
			job.CompletedAt = &now
			if job.StartedAt != nil {
				runDuration = now.Sub(*job.StartedAt).Seconds()
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish job as %s: %w", status, err)
	}

	if a.metrics != nil {
		switch status {
		case domain.JobStatusCompleted:
			a.metrics.RecordJobCompleted(runDuration)
		case domain.JobStatusFailed:
			a.metrics.RecordJobFailed(runDuration)
		case domain.JobStatusPaused:
			a.metrics.RecordJobPaused()
		}
	}

	logger.Info("job run finished", "jobID", input.JobID, "status", status)
	return nil
}
