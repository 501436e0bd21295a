package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// Helper to create a valid job for testing.
func newTestJob() *domain.BatchJob {
	now := time.Now().UTC()
	return &domain.BatchJob{
		ID:     uuid.New(),
		Name:   "bytovy dum - etapa 2",
		Status: domain.JobStatusQueued,
		Settings: domain.JobSettings{
			Concurrency:       3,
			SearchDepth:       domain.SearchDepthNormal,
			MaxSubWorks:       5,
			CandidatesPerWork: 3,
		},
		TotalItems: 120,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// jobRow builds a pgxmock row set matching jobColumns for the given job.
func jobRows(t *testing.T, job *domain.BatchJob) *pgxmock.Rows {
	t.Helper()

	settingsJSON, err := json.Marshal(job.Settings)
	require.NoError(t, err)

	return pgxmock.NewRows([]string{
		"id", "name", "status", "settings",
		"total_items", "processed_count", "error_count", "needs_review_count",
		"error_message", "temporal_workflow_id",
		"created_at", "updated_at", "started_at", "completed_at",
	}).AddRow(
		job.ID, job.Name, job.Status, settingsJSON,
		job.TotalItems, job.ProcessedCount, job.ErrorCount, job.NeedsReviewCount,
		nullString(job.ErrorMessage), nullString(job.TemporalWorkflowID),
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)
}

func TestIsValidJobTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.JobStatus
		to       domain.JobStatus
		expected bool
	}{
		{"queued to running is valid", domain.JobStatusQueued, domain.JobStatusRunning, true},
		{"queued to failed is valid", domain.JobStatusQueued, domain.JobStatusFailed, true},
		{"queued to paused is invalid", domain.JobStatusQueued, domain.JobStatusPaused, false},
		{"queued to completed is invalid", domain.JobStatusQueued, domain.JobStatusCompleted, false},

		{"running to paused is valid", domain.JobStatusRunning, domain.JobStatusPaused, true},
		{"running to completed is valid", domain.JobStatusRunning, domain.JobStatusCompleted, true},
		{"running to failed is valid", domain.JobStatusRunning, domain.JobStatusFailed, true},
		{"running to queued is invalid", domain.JobStatusRunning, domain.JobStatusQueued, false},

		{"paused to running is valid", domain.JobStatusPaused, domain.JobStatusRunning, true},
		{"paused to failed is valid", domain.JobStatusPaused, domain.JobStatusFailed, true},
		{"paused to completed is invalid", domain.JobStatusPaused, domain.JobStatusCompleted, false},

		{"completed cannot transition to anything", domain.JobStatusCompleted, domain.JobStatusRunning, false},
		{"failed cannot transition to anything", domain.JobStatusFailed, domain.JobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidJobTransition(tt.from, tt.to)
			assert.Equal(t, tt.expected, result,
				"isValidJobTransition(%s, %s) = %v, expected %v",
				tt.from, tt.to, result, tt.expected)
		})
	}
}

func TestPgJobRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates job successfully", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		job := newTestJob()

		mock.ExpectExec("INSERT INTO match_jobs").
			WithArgs(
				job.ID, job.Name, job.Status, pgxmock.AnyArg(),
				job.TotalItems, job.ProcessedCount, job.ErrorCount, job.NeedsReviewCount,
				pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = repo.Create(ctx, job)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for nil job", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		err = repo.Create(ctx, nil)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "job", validationErr.Field)
	})

	t.Run("returns validation error for missing ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		job := newTestJob()
		job.ID = uuid.Nil

		err = repo.Create(ctx, job)

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "id", validationErr.Field)
	})

	t.Run("returns already exists on unique violation", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		job := newTestJob()

		mock.ExpectExec("INSERT INTO match_jobs").
			WithArgs(
				job.ID, job.Name, job.Status, pgxmock.AnyArg(),
				job.TotalItems, job.ProcessedCount, job.ErrorCount, job.NeedsReviewCount,
				pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err = repo.Create(ctx, job)
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	})
}

func TestPgJobRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns job", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		job := newTestJob()

		mock.ExpectQuery("SELECT (.+) FROM match_jobs WHERE id = \\$1").
			WithArgs(job.ID).
			WillReturnRows(jobRows(t, job))

		got, err := repo.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.Name, got.Name)
		assert.Equal(t, domain.SearchDepthNormal, got.Settings.SearchDepth)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing job", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		id := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM match_jobs WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err = repo.Get(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgJobRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("valid transition updates row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		job := newTestJob()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM match_jobs WHERE id = \\$1 FOR UPDATE").
			WithArgs(job.ID).
			WillReturnRows(jobRows(t, job))
		mock.ExpectExec("UPDATE match_jobs SET").
			WithArgs(
				job.Name, domain.JobStatusRunning, pgxmock.AnyArg(),
				job.TotalItems, job.ProcessedCount, job.ErrorCount, job.NeedsReviewCount,
				pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				job.ID,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err = repo.UpdateStatus(ctx, job.ID, domain.JobStatusRunning, "")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid transition is rejected", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		job := newTestJob()
		job.Status = domain.JobStatusCompleted

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM match_jobs WHERE id = \\$1 FOR UPDATE").
			WithArgs(job.ID).
			WillReturnRows(jobRows(t, job))
		mock.ExpectRollback()

		err = repo.UpdateStatus(ctx, job.ID, domain.JobStatusRunning, "")
		assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	})
}

func TestPgJobRepository_IncrementCounters(t *testing.T) {
	ctx := context.Background()

	t.Run("increments counters", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE match_jobs").
			WithArgs(1, 0, 1, pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.IncrementCounters(ctx, id, 1, 0, 1)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found when no rows affected", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE match_jobs").
			WithArgs(1, 1, 0, pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.IncrementCounters(ctx, id, 1, 1, 0)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgJobRepository_GetByWorkflowID(t *testing.T) {
	ctx := context.Background()

	t.Run("requires workflow ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		_, err = repo.GetByWorkflowID(ctx, "")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("returns job by workflow ID", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgJobRepository(mock)
		job := newTestJob()
		job.TemporalWorkflowID = "batch-match-" + job.ID.String()

		mock.ExpectQuery("SELECT (.+) FROM match_jobs WHERE temporal_workflow_id = \\$1").
			WithArgs(job.TemporalWorkflowID).
			WillReturnRows(jobRows(t, job))

		got, err := repo.GetByWorkflowID(ctx, job.TemporalWorkflowID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
	})
}
