package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// ItemRepository handles per-line batch item persistence.
type ItemRepository interface {
	// CreateBatch inserts all items of a job in one round trip.
	// Items must carry valid IDs, a job ID, and unique line numbers.
	// Returns domain.ErrAlreadyExists if a (job_id, line_no) pair collides.
	CreateBatch(ctx context.Context, items []*domain.BatchItem) error

	// Get retrieves a batch item by its ID.
	// Returns domain.ErrNotFound if no matching item exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.BatchItem, error)

	// ListByJob retrieves the items of a job matching the filter, ordered by line number.
	ListByJob(ctx context.Context, jobID uuid.UUID, filter ItemFilter) ([]*domain.BatchItem, int64, error)

	// ListPending returns the IDs of a job's items awaiting processing,
	// ordered by line number. On a fresh run these are the queued items;
	// a resume pass also re-selects items that ended the previous pass in error.
	ListPending(ctx context.Context, jobID uuid.UUID, includeErrored bool) ([]uuid.UUID, error)

	// SaveResult persists the full pipeline outcome for an item: normalized
	// text, detected type, subworks, per-subwork results, final status, and
	// error message.
	// Returns domain.ErrNotFound if no matching item exists.
	SaveResult(ctx context.Context, item *domain.BatchItem) error

	// UpdateStatus sets only the item status and error message.
	// Returns domain.ErrNotFound if no matching item exists.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ItemStatus, errorMsg string) error

	// ResetErrored moves a job's errored items back to queued for a resume pass,
	// clearing stale error messages. Returns the number of items reset.
	ResetErrored(ctx context.Context, jobID uuid.UUID) (int64, error)
}

// ItemFilter specifies criteria for listing batch items.
type ItemFilter struct {
	// Status filters by one or more item statuses (optional).
	Status []domain.ItemStatus

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate normalizes the filter's pagination values.
func (f *ItemFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
