package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// JobRepository handles batch matching job persistence and lifecycle management.
type JobRepository interface {
	// Create inserts a new batch job. The job must have a valid ID and name.
	// Returns domain.ErrAlreadyExists if a job with the same ID already exists.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, job *domain.BatchJob) error

	// Get retrieves a batch job by its ID.
	// Returns domain.ErrNotFound if no matching job exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error)

	// Update performs a locked update on a batch job using SELECT FOR UPDATE.
	// The provided function receives the current job state and should return an
	// error if the update should be aborted. Changes made to the job in the
	// function are persisted.
	// Returns domain.ErrNotFound if no matching job exists.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.BatchJob) error) error

	// UpdateStatus updates the job status with an optional error message,
	// validating the transition against the job lifecycle.
	// Returns domain.ErrInvalidTransition for a disallowed transition.
	// Returns domain.ErrNotFound if no matching job exists.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error

	// List retrieves batch jobs matching the filter criteria.
	// Returns the matching jobs and total count for pagination.
	List(ctx context.Context, filter JobFilter) ([]*domain.BatchJob, int64, error)

	// IncrementCounters atomically adds to the processed, error, and
	// needs-review counters. Used by item activities to report progress
	// without a full row update.
	// Returns domain.ErrNotFound if no matching job exists.
	IncrementCounters(ctx context.Context, id uuid.UUID, processed, errored, needsReview int) error

	// GetByWorkflowID retrieves a batch job by its Temporal workflow ID.
	// Returns domain.ErrNotFound if no matching job exists.
	GetByWorkflowID(ctx context.Context, workflowID string) (*domain.BatchJob, error)
}

// JobFilter specifies criteria for listing batch jobs.
type JobFilter struct {
	// Status filters by one or more job statuses (optional).
	// When multiple statuses are provided, jobs matching any status are returned.
	Status []domain.JobStatus

	// CreatedAfter filters to jobs created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to jobs created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes the filter's pagination values.
func (f *JobFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
