package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// Compile-time interface verification.
var _ ItemRepository = (*PgItemRepository)(nil)

// PgItemRepository is a PostgreSQL implementation of ItemRepository.
type PgItemRepository struct {
	db DBTX
}

// NewPgItemRepository creates a new PostgreSQL item repository.
func NewPgItemRepository(db DBTX) *PgItemRepository {
	return &PgItemRepository{db: db}
}

const itemColumns = `id, job_id, line_no, original_text, context,
		normalized_text, detected_type, sub_works, results,
		status, error_message, created_at, updated_at`

// CreateBatch inserts all items of a job in one round trip using pgx batching.
func (r *PgItemRepository) CreateBatch(ctx context.Context, items []*domain.BatchItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO match_items (
			id, job_id, line_no, original_text, context,
			normalized_text, detected_type, sub_works, results,
			status, error_message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)`

	batch := &pgx.Batch{}
	for _, item := range items {
		if item.ID == uuid.Nil {
			return domain.NewValidationError("id", "item ID is required")
		}
		if item.JobID == uuid.Nil {
			return domain.NewValidationError("job_id", "job ID is required")
		}
		if item.OriginalText == "" {
			return domain.NewValidationError("original_text", "original text is required")
		}

		contextJSON, subWorksJSON, resultsJSON, err := marshalItemDocuments(item)
		if err != nil {
			return err
		}

		batch.Queue(query,
			item.ID, item.JobID, item.LineNo, item.OriginalText, contextJSON,
			nullString(item.NormalizedText), nullString(string(item.DetectedType)), subWorksJSON, resultsJSON,
			item.Status, nullString(item.ErrorMessage), item.CreatedAt, item.UpdatedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range items {
		if _, err := results.Exec(); err != nil {
			if isPgUniqueViolation(err) {
				return domain.NewAlreadyExistsError("item", "duplicate job line")
			}
			return fmt.Errorf("failed to create items: %w", err)
		}
	}

	return nil
}

// Get retrieves a batch item by its ID.
func (r *PgItemRepository) Get(ctx context.Context, id uuid.UUID) (*domain.BatchItem, error) {
	query := `SELECT ` + itemColumns + ` FROM match_items WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("item", id.String())
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

// ListByJob retrieves the items of a job matching the filter, ordered by line number.
func (r *PgItemRepository) ListByJob(ctx context.Context, jobID uuid.UUID, filter ItemFilter) ([]*domain.BatchItem, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	conditions := []string{"job_id = $1"}
	args := []interface{}{jobID}
	argIndex := 2

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM match_items WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	selectQuery := fmt.Sprintf(`SELECT `+itemColumns+`
		FROM match_items
		WHERE %s
		ORDER BY line_no ASC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.BatchItem, 0, filter.Limit)
	for rows.Next() {
		item, err := scanItemFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating items: %w", err)
	}

	return items, totalCount, nil
}

// ListPending returns the IDs of a job's items awaiting processing, ordered by line number.
func (r *PgItemRepository) ListPending(ctx context.Context, jobID uuid.UUID, includeErrored bool) ([]uuid.UUID, error) {
	statuses := []string{string(domain.ItemStatusQueued)}
	if includeErrored {
		statuses = append(statuses, string(domain.ItemStatusError))
	}

	query := `
		SELECT id FROM match_items
		WHERE job_id = $1 AND status = ANY($2)
		ORDER BY line_no ASC`

	rows, err := r.db.Query(ctx, query, jobID, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending item ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending items: %w", err)
	}

	return ids, nil
}

// SaveResult persists the full pipeline outcome for an item.
func (r *PgItemRepository) SaveResult(ctx context.Context, item *domain.BatchItem) error {
	if item == nil {
		return domain.NewValidationError("item", "item cannot be nil")
	}
	if item.ID == uuid.Nil {
		return domain.NewValidationError("id", "item ID is required")
	}

	contextJSON, subWorksJSON, resultsJSON, err := marshalItemDocuments(item)
	if err != nil {
		return err
	}

	query := `
		UPDATE match_items SET
			context = $1,
			normalized_text = $2,
			detected_type = $3,
			sub_works = $4,
			results = $5,
			status = $6,
			error_message = $7,
			updated_at = $8
		WHERE id = $9`

	result, err := r.db.Exec(ctx, query,
		contextJSON,
		nullString(item.NormalizedText),
		nullString(string(item.DetectedType)),
		subWorksJSON,
		resultsJSON,
		item.Status,
		nullString(item.ErrorMessage),
		time.Now().UTC(),
		item.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to save item result: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("item", item.ID.String())
	}

	return nil
}

// UpdateStatus sets only the item status and error message.
func (r *PgItemRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ItemStatus, errorMsg string) error {
	query := `
		UPDATE match_items SET
			status = $1,
			error_message = $2,
			updated_at = $3
		WHERE id = $4`

	result, err := r.db.Exec(ctx, query,
		status,
		nullString(errorMsg),
		time.Now().UTC(),
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("item", id.String())
	}

	return nil
}

// ResetErrored moves a job's errored items back to queued for a resume pass.
func (r *PgItemRepository) ResetErrored(ctx context.Context, jobID uuid.UUID) (int64, error) {
	query := `
		UPDATE match_items SET
			status = $1,
			error_message = NULL,
			updated_at = $2
		WHERE job_id = $3 AND status = $4`

	result, err := r.db.Exec(ctx, query,
		domain.ItemStatusQueued,
		time.Now().UTC(),
		jobID,
		domain.ItemStatusError,
	)

	if err != nil {
		return 0, fmt.Errorf("failed to reset errored items: %w", err)
	}

	return result.RowsAffected(), nil
}

// marshalItemDocuments serializes the JSON document columns of an item.
// Nil slices and contexts map to NULL rather than empty documents.
func marshalItemDocuments(item *domain.BatchItem) (contextJSON, subWorksJSON, resultsJSON []byte, err error) {
	if item.Context != nil {
		contextJSON, err = json.Marshal(item.Context)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal context: %w", err)
		}
	}

	if item.SubWorks != nil {
		subWorksJSON, err = json.Marshal(item.SubWorks)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal sub works: %w", err)
		}
	}

	if item.Results != nil {
		resultsJSON, err = json.Marshal(item.Results)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal results: %w", err)
		}
	}

	return contextJSON, subWorksJSON, resultsJSON, nil
}

// itemScanDest holds the destination pointers for scanning a BatchItem row.
type itemScanDest struct {
	item           domain.BatchItem
	contextJSON    []byte
	subWorksJSON   []byte
	resultsJSON    []byte
	normalizedText *string
	detectedType   *string
	errorMessage   *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *itemScanDest) destinations() []interface{} {
	return []interface{}{
		&d.item.ID, &d.item.JobID, &d.item.LineNo, &d.item.OriginalText, &d.contextJSON,
		&d.normalizedText, &d.detectedType, &d.subWorksJSON, &d.resultsJSON,
		&d.item.Status, &d.errorMessage, &d.item.CreatedAt, &d.item.UpdatedAt,
	}
}

// finalize performs post-scan processing: sets nullable string fields and unmarshals JSON.
func (d *itemScanDest) finalize() (*domain.BatchItem, error) {
	if d.normalizedText != nil {
		d.item.NormalizedText = *d.normalizedText
	}
	if d.detectedType != nil {
		d.item.DetectedType = domain.WorkType(*d.detectedType)
	}
	if d.errorMessage != nil {
		d.item.ErrorMessage = *d.errorMessage
	}

	if len(d.contextJSON) > 0 {
		var itemCtx domain.ItemContext
		if err := json.Unmarshal(d.contextJSON, &itemCtx); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
		d.item.Context = &itemCtx
	}

	if len(d.subWorksJSON) > 0 {
		if err := json.Unmarshal(d.subWorksJSON, &d.item.SubWorks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sub works: %w", err)
		}
	}

	if len(d.resultsJSON) > 0 {
		if err := json.Unmarshal(d.resultsJSON, &d.item.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}

	return &d.item, nil
}

// scanItem scans a single row into a BatchItem.
func scanItem(row pgx.Row) (*domain.BatchItem, error) {
	var dest itemScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanItemFromRows scans the current row from pgx.Rows into a BatchItem.
func scanItemFromRows(rows pgx.Rows) (*domain.BatchItem, error) {
	var dest itemScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
