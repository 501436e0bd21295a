package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/stavmatch/boq-matching-service/internal/events"
	"github.com/stavmatch/boq-matching-service/internal/repository"
)

// EventPublisher is the interface used by EventActivities to publish events.
// Satisfied by events.KafkaPublisher and events.NoopPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, event events.JobEvent) error
}

// EventActivities provides Temporal activities for publishing job lifecycle
// events. Methods on this struct are registered as Temporal activities via
// the worker.
type EventActivities struct {
	publisher EventPublisher
	jobRepo   repository.JobRepository
}

// NewEventActivities creates a new EventActivities with the given publisher
// and job repository.
func NewEventActivities(publisher EventPublisher, jobRepo repository.JobRepository) *EventActivities {
	return &EventActivities{publisher: publisher, jobRepo: jobRepo}
}

// PublishJobEvent publishes a job lifecycle event enriched with the job's
// current counters.
//
// Designed to be called with fire-and-forget semantics from the workflow;
// event publishing failure should never fail the run.
func (a *EventActivities) PublishJobEvent(ctx context.Context, input PublishJobEventInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("publishing job event",
		"eventType", input.EventType,
		"jobID", input.JobID,
	)

	event := events.JobEvent{
		EventType:    input.EventType,
		JobID:        input.JobID,
		ErrorMessage: input.ErrorMessage,
	}

	// Counter snapshot is best-effort; the event still goes out without it.
	if job, err := a.jobRepo.Get(ctx, input.JobID); err == nil {
		event.TotalItems = job.TotalItems
		event.ProcessedCount = job.ProcessedCount
		event.ErrorCount = job.ErrorCount
		event.NeedsReviewCount = job.NeedsReviewCount
	} else {
		logger.Warn("failed to load job for event counters", "jobID", input.JobID, "error", err)
	}

	if err := a.publisher.Publish(ctx, event); err != nil {
		logger.Error("failed to publish job event",
			"eventType", input.EventType,
			"jobID", input.JobID,
			"error", err,
		)
		return fmt.Errorf("publish event %s: %w", input.EventType, err)
	}

	logger.Info("job event published", "eventType", input.EventType, "jobID", input.JobID)
	return nil
}
