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
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// Used by Update to automatically wrap SELECT FOR UPDATE + UPDATE in a transaction
// when the underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

// validJobTransitions defines the allowed status transitions for batch jobs.
// This is a package-level variable to avoid re-allocating on every call.
var validJobTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusQueued: {
		domain.JobStatusRunning,
		domain.JobStatusFailed,
	},
	domain.JobStatusRunning: {
		domain.JobStatusPaused,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	},
	domain.JobStatusPaused: {
		domain.JobStatusRunning,
		domain.JobStatusFailed,
	},
}

// Compile-time interface verification.
var _ JobRepository = (*PgJobRepository)(nil)

// PgJobRepository is a PostgreSQL implementation of JobRepository.
type PgJobRepository struct {
	db DBTX
}

// NewPgJobRepository creates a new PostgreSQL job repository.
func NewPgJobRepository(db DBTX) *PgJobRepository {
	return &PgJobRepository{db: db}
}

const jobColumns = `id, name, status, settings,
		total_items, processed_count, error_count, needs_review_count,
		error_message, temporal_workflow_id,
		created_at, updated_at, started_at, completed_at`

// Create inserts a new batch job.
func (r *PgJobRepository) Create(ctx context.Context, job *domain.BatchJob) error {
	if job == nil {
		return domain.NewValidationError("job", "job cannot be nil")
	}
	if job.ID == uuid.Nil {
		return domain.NewValidationError("id", "job ID is required")
	}
	if job.Name == "" {
		return domain.NewValidationError("name", "job name is required")
	}

	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO match_jobs (
			id, name, status, settings,
			total_items, processed_count, error_count, needs_review_count,
			error_message, temporal_workflow_id,
			created_at, updated_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12, $13, $14
		)`

	_, err = r.db.Exec(ctx, query,
		job.ID, job.Name, job.Status, settingsJSON,
		job.TotalItems, job.ProcessedCount, job.ErrorCount, job.NeedsReviewCount,
		nullString(job.ErrorMessage), nullString(job.TemporalWorkflowID),
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("job", job.ID.String())
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a batch job by its ID.
func (r *PgJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM match_jobs WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", id.String())
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// Update performs a locked update on a batch job using SELECT FOR UPDATE.
//
// SELECT FOR UPDATE requires a transaction for correct locking. If the
// underlying DBTX is a connection pool (supports Begin), the method
// automatically wraps the SELECT FOR UPDATE + UPDATE in an explicit
// transaction. If the underlying DBTX is already a transaction, it executes
// within that existing transaction.
func (r *PgJobRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.BatchJob) error) error {
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgJobRepository{db: tx}
		if err := txRepo.updateInTx(ctx, id, fn); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	// Already running within a transaction — execute directly.
	return r.updateInTx(ctx, id, fn)
}

// updateInTx performs the actual SELECT FOR UPDATE + UPDATE within the current DBTX.
// This must be called within a transaction for correct row-level locking.
func (r *PgJobRepository) updateInTx(ctx context.Context, id uuid.UUID, fn func(*domain.BatchJob) error) error {
	selectQuery := `SELECT ` + jobColumns + ` FROM match_jobs WHERE id = $1 FOR UPDATE`

	rows, err := r.db.Query(ctx, selectQuery, id)
	if err != nil {
		return fmt.Errorf("failed to query job for update: %w", err)
	}

	job, err := scanJobRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("job", id.String())
		}
		return fmt.Errorf("failed to scan job: %w", err)
	}

	// Apply the update function
	if err := fn(job); err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()

	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	updateQuery := `
		UPDATE match_jobs SET
			name = $1,
			status = $2,
			settings = $3,
			total_items = $4,
			processed_count = $5,
			error_count = $6,
			needs_review_count = $7,
			error_message = $8,
			temporal_workflow_id = $9,
			updated_at = $10,
			started_at = $11,
			completed_at = $12
		WHERE id = $13`

	_, err = r.db.Exec(ctx, updateQuery,
		job.Name,
		job.Status,
		settingsJSON,
		job.TotalItems,
		job.ProcessedCount,
		job.ErrorCount,
		job.NeedsReviewCount,
		nullString(job.ErrorMessage),
		nullString(job.TemporalWorkflowID),
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// UpdateStatus updates the job status with an optional error message,
// validating the transition against the job lifecycle.
func (r *PgJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	return r.Update(ctx, id, func(job *domain.BatchJob) error {
		if job.Status == status {
			// Idempotent: repeating the current status is a no-op.
			return nil
		}
		if !isValidJobTransition(job.Status, status) {
			return domain.NewInvalidTransitionError("job", string(job.Status), string(status))
		}

		job.Status = status
		if errorMsg != "" {
			job.ErrorMessage = errorMsg
		}

		now := time.Now().UTC()
		if status == domain.JobStatusRunning && job.StartedAt == nil {
			job.StartedAt = &now
		}
		if status.IsTerminal() && job.CompletedAt == nil {
			job.CompletedAt = &now
		}

		return nil
	})
}

// List retrieves batch jobs matching the filter criteria.
func (r *PgJobRepository) List(ctx context.Context, filter JobFilter) ([]*domain.BatchJob, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM match_jobs WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	selectQuery := fmt.Sprintf(`SELECT `+jobColumns+`
		FROM match_jobs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.BatchJob, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, totalCount, nil
}

// IncrementCounters atomically adds to the processed, error, and needs-review counters.
func (r *PgJobRepository) IncrementCounters(ctx context.Context, id uuid.UUID, processed, errored, needsReview int) error {
	query := `
		UPDATE match_jobs
		SET processed_count = processed_count + $1,
			error_count = error_count + $2,
			needs_review_count = needs_review_count + $3,
			updated_at = $4
		WHERE id = $5`

	result, err := r.db.Exec(ctx, query,
		processed,
		errored,
		needsReview,
		time.Now().UTC(),
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to increment counters: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("job", id.String())
	}

	return nil
}

// GetByWorkflowID retrieves a batch job by its Temporal workflow ID.
func (r *PgJobRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*domain.BatchJob, error) {
	if workflowID == "" {
		return nil, domain.NewValidationError("workflow_id", "workflow ID is required")
	}

	query := `SELECT ` + jobColumns + ` FROM match_jobs WHERE temporal_workflow_id = $1`

	row := r.db.QueryRow(ctx, query, workflowID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", workflowID)
		}
		return nil, fmt.Errorf("failed to get job by workflow ID: %w", err)
	}

	return job, nil
}

// isValidJobTransition validates that a job status transition is allowed.
func isValidJobTransition(from, to domain.JobStatus) bool {
	// Terminal states cannot transition to anything.
	if from.IsTerminal() {
		return false
	}

	allowed, ok := validJobTransitions[from]
	if !ok {
		return false
	}

	for _, s := range allowed {
		if s == to {
			return true
		}
	}

	return false
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// jobScanDest holds the destination pointers for scanning a BatchJob row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type jobScanDest struct {
	job                domain.BatchJob
	settingsJSON       []byte
	errorMessage       *string
	temporalWorkflowID *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *jobScanDest) destinations() []interface{} {
	return []interface{}{
		&d.job.ID, &d.job.Name, &d.job.Status, &d.settingsJSON,
		&d.job.TotalItems, &d.job.ProcessedCount, &d.job.ErrorCount, &d.job.NeedsReviewCount,
		&d.errorMessage, &d.temporalWorkflowID,
		&d.job.CreatedAt, &d.job.UpdatedAt, &d.job.StartedAt, &d.job.CompletedAt,
	}
}

// finalize performs post-scan processing: sets nullable string fields and unmarshals JSON.
func (d *jobScanDest) finalize() (*domain.BatchJob, error) {
	if d.errorMessage != nil {
		d.job.ErrorMessage = *d.errorMessage
	}
	if d.temporalWorkflowID != nil {
		d.job.TemporalWorkflowID = *d.temporalWorkflowID
	}

	if len(d.settingsJSON) > 0 {
		if err := json.Unmarshal(d.settingsJSON, &d.job.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return &d.job, nil
}

// scanJob scans a single row into a BatchJob.
func scanJob(row pgx.Row) (*domain.BatchJob, error) {
	var dest jobScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanJobRows scans a single row from pgx.Rows into a BatchJob.
// This is used with SELECT FOR UPDATE which returns Rows instead of Row.
func scanJobRows(rows pgx.Rows) (*domain.BatchJob, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	return scanJobFromRows(rows)
}

// scanJobFromRows scans the current row from pgx.Rows into a BatchJob.
func scanJobFromRows(rows pgx.Rows) (*domain.BatchJob, error) {
	var dest jobScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
