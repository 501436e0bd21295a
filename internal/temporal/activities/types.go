// Package activities implements the Temporal activities of the batch
// matching workflow: job lifecycle transitions, per-item pipeline execution,
// and lifecycle event publishing.
package activities

import (
	"github.com/google/uuid"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// StartJobRunInput is the serializable input for the StartJobRun activity.
type StartJobRunInput struct {
	// JobID is the batch job to start.
	JobID uuid.UUID `json:"job_id"`

	// WorkflowID is the workflow execution recorded on the job row.
	WorkflowID string `json:"workflow_id"`

	// Resume marks a resume pass over queued and previously errored items.
	Resume bool `json:"resume"`
}

// StartJobRunOutput carries the run plan selected by StartJobRun.
type StartJobRunOutput struct {
	// Settings is the job's settings snapshot with defaults applied.
	Settings domain.JobSettings `json:"settings"`

	// ItemIDs are the items to process this run, in line order.
	ItemIDs []uuid.UUID `json:"item_ids"`

	// ResetCount is the number of errored items moved back to queued.
	ResetCount int `json:"reset_count"`
}

// FinishJobInput is the serializable input for the FinishJob activity.
type FinishJobInput struct {
	// JobID is the batch job to finish.
	JobID uuid.UUID `json:"job_id"`

	// Paused finishes the run with the job left paused instead of completed.
	Paused bool `json:"paused"`

	// ErrorMessage marks the job failed when non-empty.
	ErrorMessage string `json:"error_message"`
}

// ProcessItemInput is the serializable input for the ProcessItem activity.
type ProcessItemInput struct {
	// ItemID is the batch item to process.
	ItemID uuid.UUID `json:"item_id"`

	// JobID is the parent job, used for counter updates.
	JobID uuid.UUID `json:"job_id"`

	// Settings is the job's settings snapshot.
	Settings domain.JobSettings `json:"settings"`
}

// ProcessItemOutput is the result of one item's pipeline pass.
type ProcessItemOutput struct {
	// Status is the item's terminal status for this pass
	// (done, needs_review or error).
	Status domain.ItemStatus `json:"status"`

	// NeedsReview reports whether the item was flagged for review.
	NeedsReview bool `json:"needs_review"`

	// ErrorMessage carries the failure reason when Status is error.
	ErrorMessage string `json:"error_message,omitempty"`
}

// PublishJobEventInput is the serializable input for the PublishJobEvent
// activity.
type PublishJobEventInput struct {
	// EventType is one of the events.EventJob* constants.
	EventType string `json:"event_type"`

	// JobID is the batch job the event concerns.
	JobID uuid.UUID `json:"job_id"`

	// ErrorMessage carries the failure reason on job.failed events.
	ErrorMessage string `json:"error_message,omitempty"`
}
