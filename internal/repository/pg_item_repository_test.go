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

// Helper to create a valid queued item for testing.
func newTestItem(jobID uuid.UUID, lineNo int) *domain.BatchItem {
	now := time.Now().UTC()
	return &domain.BatchItem{
		ID:           uuid.New(),
		JobID:        jobID,
		LineNo:       lineNo,
		OriginalText: "beton C25/30 vc. dopravy a ulozeni",
		Status:       domain.ItemStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// itemRows builds a pgxmock row set matching itemColumns for the given item.
func itemRows(t *testing.T, item *domain.BatchItem) *pgxmock.Rows {
	t.Helper()

	var contextJSON, subWorksJSON, resultsJSON []byte
	var err error
	if item.Context != nil {
		contextJSON, err = json.Marshal(item.Context)
		require.NoError(t, err)
	}
	if item.SubWorks != nil {
		subWorksJSON, err = json.Marshal(item.SubWorks)
		require.NoError(t, err)
	}
	if item.Results != nil {
		resultsJSON, err = json.Marshal(item.Results)
		require.NoError(t, err)
	}

	return pgxmock.NewRows([]string{
		"id", "job_id", "line_no", "original_text", "context",
		"normalized_text", "detected_type", "sub_works", "results",
		"status", "error_message", "created_at", "updated_at",
	}).AddRow(
		item.ID, item.JobID, item.LineNo, item.OriginalText, contextJSON,
		nullString(item.NormalizedText), nullString(string(item.DetectedType)), subWorksJSON, resultsJSON,
		item.Status, nullString(item.ErrorMessage), item.CreatedAt, item.UpdatedAt,
	)
}

func TestPgItemRepository_CreateBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts all items in one batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		jobID := uuid.New()
		items := []*domain.BatchItem{
			newTestItem(jobID, 1),
			newTestItem(jobID, 2),
		}

		batch := mock.ExpectBatch()
		for _, item := range items {
			batch.ExpectExec("INSERT INTO match_items").
				WithArgs(
					item.ID, item.JobID, item.LineNo, item.OriginalText, pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					item.Status, pgxmock.AnyArg(), item.CreatedAt, item.UpdatedAt,
				).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}

		err = repo.CreateBatch(ctx, items)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty slice is a no-op", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		err = repo.CreateBatch(ctx, nil)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns validation error for missing text", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		item := newTestItem(uuid.New(), 1)
		item.OriginalText = ""

		err = repo.CreateBatch(ctx, []*domain.BatchItem{item})

		var validationErr *domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "original_text", validationErr.Field)
	})

	t.Run("returns already exists on duplicate line number", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		item := newTestItem(uuid.New(), 1)

		mock.ExpectBatch().
			ExpectExec("INSERT INTO match_items").
			WithArgs(
				item.ID, item.JobID, item.LineNo, item.OriginalText, pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				item.Status, pgxmock.AnyArg(), item.CreatedAt, item.UpdatedAt,
			).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err = repo.CreateBatch(ctx, []*domain.BatchItem{item})
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
	})
}

func TestPgItemRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns item with documents unmarshalled", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		item := newTestItem(uuid.New(), 3)
		item.NormalizedText = "beton c25/30 vcetne dopravy a ulozeni"
		item.DetectedType = domain.WorkTypeComposite
		item.Status = domain.ItemStatusDone
		score := 92
		item.SubWorks = []domain.SubWork{
			{Index: 1, Text: "beton c25/30", Operation: domain.OperationConcreting},
			{Index: 2, Text: "doprava betonu", Operation: domain.OperationTransport},
		}
		item.Results = []domain.SubWorkResult{
			{SubWorkIndex: 1, Candidates: []domain.Candidate{{Code: "801-32-117", Score: &score}}},
		}

		mock.ExpectQuery("SELECT (.+) FROM match_items WHERE id = \\$1").
			WithArgs(item.ID).
			WillReturnRows(itemRows(t, item))

		got, err := repo.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.ID, got.ID)
		assert.Equal(t, domain.WorkTypeComposite, got.DetectedType)
		require.Len(t, got.SubWorks, 2)
		assert.Equal(t, domain.OperationTransport, got.SubWorks[1].Operation)
		require.Len(t, got.Results, 1)
		assert.Equal(t, "801-32-117", got.Results[0].Candidates[0].Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing item", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		id := uuid.New()

		mock.ExpectQuery("SELECT (.+) FROM match_items WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err = repo.Get(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgItemRepository_ListByJob(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by status and orders by line number", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		jobID := uuid.New()
		item := newTestItem(jobID, 5)
		item.Status = domain.ItemStatusNeedsReview

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM match_items").
			WithArgs(jobID, domain.ItemStatusNeedsReview).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
		mock.ExpectQuery("SELECT (.+) FROM match_items(.+)ORDER BY line_no ASC").
			WithArgs(jobID, domain.ItemStatusNeedsReview, 100, 0).
			WillReturnRows(itemRows(t, item))

		items, total, err := repo.ListByJob(ctx, jobID, ItemFilter{
			Status: []domain.ItemStatus{domain.ItemStatusNeedsReview},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, items, 1)
		assert.Equal(t, 5, items[0].LineNo)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgItemRepository_ListPending(t *testing.T) {
	ctx := context.Background()

	t.Run("queued only on a fresh run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		jobID := uuid.New()
		id1, id2 := uuid.New(), uuid.New()

		mock.ExpectQuery("SELECT id FROM match_items").
			WithArgs(jobID, []string{string(domain.ItemStatusQueued)}).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id1).AddRow(id2))

		ids, err := repo.ListPending(ctx, jobID, false)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{id1, id2}, ids)
	})

	t.Run("resume pass includes errored items", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		jobID := uuid.New()

		mock.ExpectQuery("SELECT id FROM match_items").
			WithArgs(jobID, []string{
				string(domain.ItemStatusQueued),
				string(domain.ItemStatusError),
			}).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		ids, err := repo.ListPending(ctx, jobID, true)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgItemRepository_SaveResult(t *testing.T) {
	ctx := context.Background()

	t.Run("persists pipeline outcome", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		item := newTestItem(uuid.New(), 1)
		item.NormalizedText = "zdivo porotherm 30"
		item.DetectedType = domain.WorkTypeSingle
		item.Status = domain.ItemStatusDone

		mock.ExpectExec("UPDATE match_items SET").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(),
				item.Status, pgxmock.AnyArg(), pgxmock.AnyArg(),
				item.ID,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.SaveResult(ctx, item)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found when no rows affected", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		item := newTestItem(uuid.New(), 1)

		mock.ExpectExec("UPDATE match_items SET").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(),
				item.Status, pgxmock.AnyArg(), pgxmock.AnyArg(),
				item.ID,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.SaveResult(ctx, item)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("returns validation error for nil item", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		err = repo.SaveResult(ctx, nil)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgItemRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("sets status and error message", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE match_items SET").
			WithArgs(domain.ItemStatusError, nullString("catalog search failed"), pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.UpdateStatus(ctx, id, domain.ItemStatusError, "catalog search failed")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found for missing item", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgItemRepository(mock)
		id := uuid.New()

		mock.ExpectExec("UPDATE match_items SET").
			WithArgs(domain.ItemStatusParsed, pgxmock.AnyArg(), pgxmock.AnyArg(), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.UpdateStatus(ctx, id, domain.ItemStatusParsed, "")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestPgItemRepository_ResetErrored(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgItemRepository(mock)
	jobID := uuid.New()

	mock.ExpectExec("UPDATE match_items SET").
		WithArgs(domain.ItemStatusQueued, pgxmock.AnyArg(), jobID, domain.ItemStatusError).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	count, err := repo.ResetErrored(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
