package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/repository"
	"github.com/stavmatch/boq-matching-service/internal/temporal"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockJobRepo implements repository.JobRepository for HTTP handler tests.
type mockJobRepo struct {
	createFn            func(ctx context.Context, job *domain.BatchJob) error
	getFn               func(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error)
	updateFn            func(ctx context.Context, id uuid.UUID, fn func(*domain.BatchJob) error) error
	updateStatusFn      func(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error
	listFn              func(ctx context.Context, filter repository.JobFilter) ([]*domain.BatchJob, int64, error)
	incrementCountersFn func(ctx context.Context, id uuid.UUID, processed, errored, needsReview int) error
	getByWorkflowIDFn   func(ctx context.Context, workflowID string) (*domain.BatchJob, error)
}

func (m *mockJobRepo) Create(ctx context.Context, job *domain.BatchJob) error {
	if m.createFn != nil {
		return m.createFn(ctx, job)
	}
	return nil
}

func (m *mockJobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockJobRepo) Update(ctx context.Context, id uuid.UUID, fn func(*domain.BatchJob) error) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, fn)
	}
	return nil
}

func (m *mockJobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, errorMsg)
	}
	return nil
}

func (m *mockJobRepo) List(ctx context.Context, filter repository.JobFilter) ([]*domain.BatchJob, int64, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockJobRepo) IncrementCounters(ctx context.Context, id uuid.UUID, processed, errored, needsReview int) error {
	if m.incrementCountersFn != nil {
		return m.incrementCountersFn(ctx, id, processed, errored, needsReview)
	}
	return nil
}

func (m *mockJobRepo) GetByWorkflowID(ctx context.Context, workflowID string) (*domain.BatchJob, error) {
	if m.getByWorkflowIDFn != nil {
		return m.getByWorkflowIDFn(ctx, workflowID)
	}
	return nil, domain.ErrNotFound
}

// mockItemRepo implements repository.ItemRepository for HTTP handler tests.
type mockItemRepo struct {
	createBatchFn func(ctx context.Context, items []*domain.BatchItem) error
	listByJobFn   func(ctx context.Context, jobID uuid.UUID, filter repository.ItemFilter) ([]*domain.BatchItem, int64, error)
}

func (m *mockItemRepo) CreateBatch(ctx context.Context, items []*domain.BatchItem) error {
	if m.createBatchFn != nil {
		return m.createBatchFn(ctx, items)
	}
	return nil
}

func (m *mockItemRepo) Get(_ context.Context, _ uuid.UUID) (*domain.BatchItem, error) {
	return nil, domain.ErrNotFound
}

func (m *mockItemRepo) ListByJob(ctx context.Context, jobID uuid.UUID, filter repository.ItemFilter) ([]*domain.BatchItem, int64, error) {
	if m.listByJobFn != nil {
		return m.listByJobFn(ctx, jobID, filter)
	}
	return nil, 0, nil
}

func (m *mockItemRepo) ListPending(_ context.Context, _ uuid.UUID, _ bool) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *mockItemRepo) SaveResult(_ context.Context, _ *domain.BatchItem) error { return nil }

func (m *mockItemRepo) UpdateStatus(_ context.Context, _ uuid.UUID, _ domain.ItemStatus, _ string) error {
	return nil
}

func (m *mockItemRepo) ResetErrored(_ context.Context, _ uuid.UUID) (int64, error) { return 0, nil }

// mockWorkflowClient implements WorkflowClient for HTTP handler tests.
type mockWorkflowClient struct {
	startFn    func(ctx context.Context, input temporal.BatchWorkflowInput, workflowFunc interface{}) (string, string, error)
	pauseFn    func(ctx context.Context, workflowID, requestedBy string) error
	cancelFn   func(ctx context.Context, workflowID string) error
	progressFn func(ctx context.Context, workflowID string) (*temporal.WorkflowProgress, error)
}

func (m *mockWorkflowClient) StartBatchWorkflow(ctx context.Context, input temporal.BatchWorkflowInput, workflowFunc interface{}) (string, string, error) {
	if m.startFn != nil {
		return m.startFn(ctx, input, workflowFunc)
	}
	return "wf-test", "run-test", nil
}

func (m *mockWorkflowClient) PauseWorkflow(ctx context.Context, workflowID, requestedBy string) error {
	if m.pauseFn != nil {
		return m.pauseFn(ctx, workflowID, requestedBy)
	}
	return nil
}

func (m *mockWorkflowClient) CancelWorkflow(ctx context.Context, workflowID string) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, workflowID)
	}
	return nil
}

func (m *mockWorkflowClient) Progress(ctx context.Context, workflowID string) (*temporal.WorkflowProgress, error) {
	if m.progressFn != nil {
		return m.progressFn(ctx, workflowID)
	}
	return &temporal.WorkflowProgress{}, nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// newTestServer creates a Server configured for testing with mocked dependencies.
func newTestServer(wfClient WorkflowClient, jobRepo repository.JobRepository, itemRepo repository.ItemRepository) *Server {
	s := &Server{
		workflowClient: wfClient,
		jobRepo:        jobRepo,
		itemRepo:       itemRepo,
		logger:         zerolog.Nop(),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
	s.router = s.buildRouter()
	return s
}

// serveHTTP dispatches a request through the test server's router and returns the recorder.
func serveHTTP(s *Server, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, r)
	return rr
}

// decodeJSON decodes a JSON response body into the given target.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func runningJob(id uuid.UUID) *domain.BatchJob {
	settings := domain.JobSettings{}
	settings.ApplyDefaults()
	return &domain.BatchJob{
		ID:                 id,
		Name:               "office block BOQ",
		Status:             domain.JobStatusRunning,
		Settings:           settings,
		TotalItems:         10,
		ProcessedCount:     4,
		TemporalWorkflowID: temporal.WorkflowIDForJob(id),
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Tests: submitJob
// ---------------------------------------------------------------------------

func TestSubmitJob_Success(t *testing.T) {
	var createdJob *domain.BatchJob
	var createdItems []*domain.BatchItem

	jobRepo := &mockJobRepo{
		createFn: func(_ context.Context, job *domain.BatchJob) error {
			createdJob = job
			return nil
		},
	}
	itemRepo := &mockItemRepo{
		createBatchFn: func(_ context.Context, items []*domain.BatchItem) error {
			createdItems = items
			return nil
		},
	}

	var capturedInput temporal.BatchWorkflowInput
	wfClient := &mockWorkflowClient{
		startFn: func(_ context.Context, input temporal.BatchWorkflowInput, _ interface{}) (string, string, error) {
			capturedInput = input
			return temporal.WorkflowIDForJob(input.JobID), "run-abc", nil
		},
	}

	srv := newTestServer(wfClient, jobRepo, itemRepo)

	body := `{
		"name": "office block BOQ",
		"items": [
			{"text": "Beton C25/30 vc. cerpani"},
			{"text": "Zdivo nosne tl. 300 mm"}
		],
		"settings": {"concurrency": 2, "search_depth": "deep"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body))
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp submitJobResponse
	decodeJSON(t, rr, &resp)

	if createdJob == nil {
		t.Fatal("expected job to be created")
	}
	if createdJob.Status != domain.JobStatusQueued {
		t.Errorf("expected queued job, got %s", createdJob.Status)
	}
	if createdJob.Settings.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", createdJob.Settings.Concurrency)
	}
	if createdJob.Settings.SearchDepth != domain.SearchDepthDeep {
		t.Errorf("expected deep search depth, got %s", createdJob.Settings.SearchDepth)
	}
	// Omitted settings fall back to defaults.
	if createdJob.Settings.MaxSubWorks != domain.DefaultMaxSubWorks {
		t.Errorf("expected default max subworks, got %d", createdJob.Settings.MaxSubWorks)
	}

	if len(createdItems) != 2 {
		t.Fatalf("expected 2 items, got %d", len(createdItems))
	}
	// Line numbers are assigned from submission order when omitted.
	for i, item := range createdItems {
		if item.LineNo != i+1 {
			t.Errorf("item %d: expected line_no %d, got %d", i, i+1, item.LineNo)
		}
		if item.JobID != createdJob.ID {
			t.Errorf("item %d: job ID mismatch", i)
		}
		if item.Status != domain.ItemStatusQueued {
			t.Errorf("item %d: expected queued, got %s", i, item.Status)
		}
	}

	if capturedInput.JobID != createdJob.ID {
		t.Error("workflow started with wrong job ID")
	}
	if capturedInput.Resume {
		t.Error("fresh submission must not set resume")
	}
	if resp.TotalItems != 2 {
		t.Errorf("expected total_items 2, got %d", resp.TotalItems)
	}
	if resp.WorkflowID != temporal.WorkflowIDForJob(createdJob.ID) {
		t.Errorf("unexpected workflow ID %q", resp.WorkflowID)
	}
}

func TestSubmitJob_ExplicitLineNumbersPreserved(t *testing.T) {
	var createdItems []*domain.BatchItem
	itemRepo := &mockItemRepo{
		createBatchFn: func(_ context.Context, items []*domain.BatchItem) error {
			createdItems = items
			return nil
		},
	}
	srv := newTestServer(&mockWorkflowClient{}, &mockJobRepo{}, itemRepo)

	body := `{"name": "renumbered", "items": [{"line_no": 12, "text": "a"}, {"line_no": 7, "text": "b"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body))
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if createdItems[0].LineNo != 12 || createdItems[1].LineNo != 7 {
		t.Errorf("explicit line numbers changed: %d, %d", createdItems[0].LineNo, createdItems[1].LineNo)
	}
}

func TestSubmitJob_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{`},
		{"missing name", `{"items": [{"text": "a"}]}`},
		{"empty items", `{"name": "job", "items": []}`},
		{"item missing text", `{"name": "job", "items": [{"line_no": 1}]}`},
		{"bad search depth", `{"name": "job", "items": [{"text": "a"}], "settings": {"search_depth": "exhaustive"}}`},
		{"duplicate line numbers", `{"name": "job", "items": [{"line_no": 3, "text": "a"}, {"line_no": 3, "text": "b"}]}`},
		{"concurrency out of range", `{"name": "job", "items": [{"text": "a"}], "settings": {"concurrency": 64}}`},
	}

	srv := newTestServer(&mockWorkflowClient{}, &mockJobRepo{}, &mockItemRepo{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(tt.body))
			rr := serveHTTP(srv, req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestSubmitJob_WorkflowStartFailure(t *testing.T) {
	wfClient := &mockWorkflowClient{
		startFn: func(_ context.Context, _ temporal.BatchWorkflowInput, _ interface{}) (string, string, error) {
			return "", "", &temporal.TemporalError{Op: "StartBatchWorkflow", Kind: temporal.ErrConnectionFailed}
		},
	}
	srv := newTestServer(wfClient, &mockJobRepo{}, &mockItemRepo{})

	body := `{"name": "job", "items": [{"text": "a"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body))
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Tests: getJob / listJobs
// ---------------------------------------------------------------------------

func TestGetJob_Success(t *testing.T) {
	jobID := uuid.New()
	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, id uuid.UUID) (*domain.BatchJob, error) {
			if id != jobID {
				return nil, domain.ErrNotFound
			}
			return runningJob(jobID), nil
		},
	}
	srv := newTestServer(&mockWorkflowClient{}, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String(), nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp jobStatusResponse
	decodeJSON(t, rr, &resp)
	if resp.JobID != jobID.String() {
		t.Errorf("expected job ID %s, got %s", jobID, resp.JobID)
	}
	if resp.Status != string(domain.JobStatusRunning) {
		t.Errorf("expected running, got %s", resp.Status)
	}
	if resp.Settings.Concurrency != domain.DefaultConcurrency {
		t.Errorf("expected default concurrency, got %d", resp.Settings.Concurrency)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv := newTestServer(&mockWorkflowClient{}, &mockJobRepo{}, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestGetJob_InvalidUUID(t *testing.T) {
	srv := newTestServer(&mockWorkflowClient{}, &mockJobRepo{}, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestListJobs_StatusFilterAndPagination(t *testing.T) {
	var capturedFilter repository.JobFilter
	jobs := []*domain.BatchJob{runningJob(uuid.New()), runningJob(uuid.New())}

	jobRepo := &mockJobRepo{
		listFn: func(_ context.Context, filter repository.JobFilter) ([]*domain.BatchJob, int64, error) {
			capturedFilter = filter
			return jobs, 120, nil
		},
	}
	srv := newTestServer(&mockWorkflowClient{}, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=running&page_size=2", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(capturedFilter.Status) != 1 || capturedFilter.Status[0] != domain.JobStatusRunning {
		t.Errorf("expected running status filter, got %v", capturedFilter.Status)
	}
	if capturedFilter.Limit != 2 {
		t.Errorf("expected limit 2, got %d", capturedFilter.Limit)
	}

	var resp listJobsResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(resp.Jobs))
	}
	if resp.TotalCount != 120 {
		t.Errorf("expected total 120, got %d", resp.TotalCount)
	}
	if resp.NextPageToken == "" {
		t.Error("expected a next page token for partial results")
	}
}

// ---------------------------------------------------------------------------
// Tests: listJobItems
// ---------------------------------------------------------------------------

func TestListJobItems_Success(t *testing.T) {
	jobID := uuid.New()
	score := 87
	items := []*domain.BatchItem{
		{
			ID:           uuid.New(),
			JobID:        jobID,
			LineNo:       1,
			OriginalText: "Beton C25/30",
			Status:       domain.ItemStatusDone,
			DetectedType: domain.WorkTypeSingle,
			Results: []domain.SubWorkResult{
				{
					SubWorkIndex: 1,
					Candidates:   []domain.Candidate{{Code: "801-32-117", Name: "Concrete C25/30", Unit: "m3", Score: &score}},
				},
			},
		},
	}

	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, id uuid.UUID) (*domain.BatchJob, error) {
			return runningJob(jobID), nil
		},
	}
	itemRepo := &mockItemRepo{
		listByJobFn: func(_ context.Context, id uuid.UUID, filter repository.ItemFilter) ([]*domain.BatchItem, int64, error) {
			if id != jobID {
				return nil, 0, fmt.Errorf("unexpected job ID %s", id)
			}
			return items, 1, nil
		},
	}
	srv := newTestServer(&mockWorkflowClient{}, jobRepo, itemRepo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/items", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp listItemsResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}
	item := resp.Items[0]
	if item.Status != string(domain.ItemStatusDone) {
		t.Errorf("expected done, got %s", item.Status)
	}
	if len(item.Results) != 1 || len(item.Results[0].Candidates) != 1 {
		t.Fatalf("expected one result with one candidate, got %+v", item.Results)
	}
	if item.Results[0].Candidates[0].Code != "801-32-117" {
		t.Errorf("unexpected candidate code %s", item.Results[0].Candidates[0].Code)
	}
}

func TestListJobItems_JobNotFound(t *testing.T) {
	srv := newTestServer(&mockWorkflowClient{}, &mockJobRepo{}, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString()+"/items", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: pause / resume / cancel
// ---------------------------------------------------------------------------

func TestPauseJob_Success(t *testing.T) {
	jobID := uuid.New()
	job := runningJob(jobID)

	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return job, nil },
	}

	var pausedWorkflowID, requestedBy string
	wfClient := &mockWorkflowClient{
		pauseFn: func(_ context.Context, workflowID, by string) error {
			pausedWorkflowID = workflowID
			requestedBy = by
			return nil
		},
	}
	srv := newTestServer(wfClient, jobRepo, &mockItemRepo{})

	body := `{"requested_by": "estimator@site"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/pause", bytes.NewBufferString(body))
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if pausedWorkflowID != job.TemporalWorkflowID {
		t.Errorf("expected workflow %s, got %s", job.TemporalWorkflowID, pausedWorkflowID)
	}
	if requestedBy != "estimator@site" {
		t.Errorf("expected requested_by to be forwarded, got %q", requestedBy)
	}
}

func TestPauseJob_NotRunning(t *testing.T) {
	jobID := uuid.New()
	job := runningJob(jobID)
	job.Status = domain.JobStatusCompleted

	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return job, nil },
	}
	srv := newTestServer(&mockWorkflowClient{}, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/pause", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestResumeJob_Success(t *testing.T) {
	jobID := uuid.New()
	job := runningJob(jobID)
	job.Status = domain.JobStatusPaused

	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return job, nil },
	}

	var capturedInput temporal.BatchWorkflowInput
	wfClient := &mockWorkflowClient{
		startFn: func(_ context.Context, input temporal.BatchWorkflowInput, _ interface{}) (string, string, error) {
			capturedInput = input
			return temporal.WorkflowIDForJob(input.JobID), "run-2", nil
		},
	}
	srv := newTestServer(wfClient, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/resume", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedInput.JobID != jobID {
		t.Errorf("expected job %s, got %s", jobID, capturedInput.JobID)
	}
	if !capturedInput.Resume {
		t.Error("resume run must set the resume flag")
	}
}

func TestResumeJob_NotPaused(t *testing.T) {
	jobID := uuid.New()
	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return runningJob(jobID), nil },
	}
	srv := newTestServer(&mockWorkflowClient{}, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/resume", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCancelJob_TerminalState(t *testing.T) {
	jobID := uuid.New()
	job := runningJob(jobID)
	job.Status = domain.JobStatusFailed

	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return job, nil },
	}
	srv := newTestServer(&mockWorkflowClient{}, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/cancel", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
}

func TestCancelJob_Success(t *testing.T) {
	jobID := uuid.New()
	job := runningJob(jobID)

	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return job, nil },
	}

	var cancelledWorkflowID string
	wfClient := &mockWorkflowClient{
		cancelFn: func(_ context.Context, workflowID string) error {
			cancelledWorkflowID = workflowID
			return nil
		},
	}
	srv := newTestServer(wfClient, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/cancel", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if cancelledWorkflowID != job.TemporalWorkflowID {
		t.Errorf("expected workflow %s, got %s", job.TemporalWorkflowID, cancelledWorkflowID)
	}
}

// ---------------------------------------------------------------------------
// Tests: progress
// ---------------------------------------------------------------------------

func TestGetJobProgress_LiveWorkflow(t *testing.T) {
	jobID := uuid.New()
	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return runningJob(jobID), nil },
	}
	wfClient := &mockWorkflowClient{
		progressFn: func(_ context.Context, workflowID string) (*temporal.WorkflowProgress, error) {
			return &temporal.WorkflowProgress{
				Phase:      "processing",
				TotalItems: 10,
				Dispatched: 7,
				Processed:  6,
				Errored:    1,
				InFlight:   1,
			}, nil
		},
	}
	srv := newTestServer(wfClient, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/progress", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp jobProgressResponse
	decodeJSON(t, rr, &resp)
	if resp.Phase != "processing" {
		t.Errorf("expected processing phase, got %q", resp.Phase)
	}
	if resp.Processed != 6 || resp.InFlight != 1 {
		t.Errorf("unexpected counters: %+v", resp)
	}
}

func TestGetJobProgress_QueryFailureFallsBackToCounters(t *testing.T) {
	jobID := uuid.New()
	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return runningJob(jobID), nil },
	}
	wfClient := &mockWorkflowClient{
		progressFn: func(_ context.Context, _ string) (*temporal.WorkflowProgress, error) {
			return nil, &temporal.TemporalError{Op: "Progress", Kind: temporal.ErrQueryFailed}
		},
	}
	srv := newTestServer(wfClient, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/progress", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp jobProgressResponse
	decodeJSON(t, rr, &resp)
	// Persisted counters from the job row.
	if resp.TotalItems != 10 || resp.Processed != 4 {
		t.Errorf("expected fallback to job counters, got %+v", resp)
	}
}

func TestGetJobProgress_CompletedJobUsesPersistedCounters(t *testing.T) {
	jobID := uuid.New()
	job := runningJob(jobID)
	job.Status = domain.JobStatusCompleted
	job.ProcessedCount = 10

	progressQueried := false
	jobRepo := &mockJobRepo{
		getFn: func(_ context.Context, _ uuid.UUID) (*domain.BatchJob, error) { return job, nil },
	}
	wfClient := &mockWorkflowClient{
		progressFn: func(_ context.Context, _ string) (*temporal.WorkflowProgress, error) {
			progressQueried = true
			return nil, nil
		},
	}
	srv := newTestServer(wfClient, jobRepo, &mockItemRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID.String()+"/progress", nil)
	rr := serveHTTP(srv, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if progressQueried {
		t.Error("completed job must not query the workflow")
	}

	var resp jobProgressResponse
	decodeJSON(t, rr, &resp)
	if resp.Processed != 10 || resp.Status != string(domain.JobStatusCompleted) {
		t.Errorf("unexpected response: %+v", resp)
	}
}
