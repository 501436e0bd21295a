package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/repository"
	"github.com/stavmatch/boq-matching-service/internal/temporal"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 8 << 20 // 8 MB limit; a batch carries full bill text
)

// submitJobRequest is the JSON request body for submitting a batch matching job.
type submitJobRequest struct {
	Name     string              `json:"name" validate:"required,max=200"`
	Items    []submitItemRequest `json:"items" validate:"required,min=1,max=5000,dive"`
	Settings *jobSettingsRequest `json:"settings,omitempty"`
}

// submitItemRequest is one BOQ line in a job submission. LineNo is optional;
// omitted line numbers are assigned from submission order.
type submitItemRequest struct {
	LineNo  int                 `json:"line_no,omitempty" validate:"omitempty,min=1"`
	Text    string              `json:"text" validate:"required,max=4000"`
	Context *itemContextRequest `json:"context,omitempty"`
}

// itemContextRequest carries optional structural context for a line.
type itemContextRequest struct {
	ParentText  string   `json:"parent_text,omitempty" validate:"max=2000"`
	SiblingText []string `json:"sibling_text,omitempty" validate:"max=20,dive,max=4000"`
}

// jobSettingsRequest holds optional per-job processing overrides.
type jobSettingsRequest struct {
	Concurrency       int    `json:"concurrency,omitempty" validate:"omitempty,min=1,max=16"`
	SearchDepth       string `json:"search_depth,omitempty" validate:"omitempty,oneof=quick normal deep"`
	MaxSubWorks       int    `json:"max_sub_works,omitempty" validate:"omitempty,min=1,max=20"`
	CandidatesPerWork int    `json:"candidates_per_work,omitempty" validate:"omitempty,min=1,max=10"`
}

// pauseJobRequest is the optional JSON request body for pausing a job.
type pauseJobRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// submitJob handles POST /api/v1/jobs.
// It persists the job with its line items and starts the Temporal workflow.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return
	}

	// Explicit line numbers must be unique within the job; a submission
	// without them is numbered from input order.
	renumber := false
	seen := make(map[int]struct{}, len(req.Items))
	for _, item := range req.Items {
		if item.LineNo == 0 {
			renumber = true
			break
		}
		if _, dup := seen[item.LineNo]; dup {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("duplicate line_no %d", item.LineNo))
			return
		}
		seen[item.LineNo] = struct{}{}
	}

	settings := domain.JobSettings{}
	if req.Settings != nil {
		settings = domain.JobSettings{
			Concurrency:       req.Settings.Concurrency,
			SearchDepth:       domain.SearchDepth(req.Settings.SearchDepth),
			MaxSubWorks:       req.Settings.MaxSubWorks,
			CandidatesPerWork: req.Settings.CandidatesPerWork,
		}
	}
	settings.ApplyDefaults()

	now := time.Now()
	job := &domain.BatchJob{
		ID:         uuid.New(),
		Name:       req.Name,
		Status:     domain.JobStatusQueued,
		Settings:   settings,
		TotalItems: len(req.Items),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	items := make([]*domain.BatchItem, len(req.Items))
	for i, in := range req.Items {
		lineNo := in.LineNo
		if renumber {
			lineNo = i + 1
		}
		var itemCtx *domain.ItemContext
		if in.Context != nil {
			itemCtx = &domain.ItemContext{
				ParentText:  in.Context.ParentText,
				SiblingText: in.Context.SiblingText,
			}
		}
		items[i] = &domain.BatchItem{
			ID:           uuid.New(),
			JobID:        job.ID,
			LineNo:       lineNo,
			OriginalText: in.Text,
			Context:      itemCtx,
			Status:       domain.ItemStatusQueued,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.itemRepo.CreateBatch(ctx, items); err != nil {
		writeDomainError(w, err)
		return
	}

	workflowID, runID, err := s.workflowClient.StartBatchWorkflow(ctx, temporal.BatchWorkflowInput{
		JobID: job.ID,
	}, s.workflowFunc)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Best-effort; the workflow's first activity records the ID as well.
	_ = s.jobRepo.Update(ctx, job.ID, func(j *domain.BatchJob) error {
		j.TemporalWorkflowID = workflowID
		return nil
	})

	s.logger.Info().
		Str("jobID", job.ID.String()).
		Str("workflowID", workflowID).
		Str("runID", runID).
		Int("items", len(items)).
		Msg("batch job submitted")

	writeJSON(w, http.StatusCreated, submitJobResponse{
		JobID:      job.ID.String(),
		WorkflowID: workflowID,
		Status:     string(domain.JobStatusQueued),
		TotalItems: len(items),
		CreatedAt:  now,
	})
}

// getJob handles GET /api/v1/jobs/{jobID}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobRepo.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainJobToResponse(job))
}

// listJobs handles GET /api/v1/jobs.
// It returns a paginated list of job summaries with optional filters.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.JobFilter{
		Limit:  limit,
		Offset: offset,
	}

	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		filter.Status = []domain.JobStatus{domain.JobStatus(statusParam)}
	}
	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	jobs, totalCount, err := s.jobRepo.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]jobSummaryResponse, len(jobs))
	for i, j := range jobs {
		summaries[i] = domainJobToSummary(j)
	}

	writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:          summaries,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// listJobItems handles GET /api/v1/jobs/{jobID}/items.
// It returns the job's line items with their match results, ordered by line number.
func (s *Server) listJobItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	if _, err := s.jobRepo.Get(ctx, jobID); err != nil {
		writeDomainError(w, err)
		return
	}

	limit, offset := parsePaginationParams(r)
	filter := repository.ItemFilter{
		Limit:  limit,
		Offset: offset,
	}
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		filter.Status = []domain.ItemStatus{domain.ItemStatus(statusParam)}
	}

	items, totalCount, err := s.itemRepo.ListByJob(ctx, jobID, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]itemResponse, len(items))
	for i, item := range items {
		responses[i] = domainItemToResponse(item)
	}

	writeJSON(w, http.StatusOK, listItemsResponse{
		Items:         responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getJobProgress handles GET /api/v1/jobs/{jobID}/progress.
// For a job with a live workflow it queries the workflow's progress counters;
// otherwise it reports the persisted job counters.
func (s *Server) getJobProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobRepo.Get(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := jobProgressResponse{
		JobID:       job.ID.String(),
		Status:      string(job.Status),
		TotalItems:  job.TotalItems,
		Processed:   job.ProcessedCount,
		Errored:     job.ErrorCount,
		NeedsReview: job.NeedsReviewCount,
	}

	if job.Status == domain.JobStatusRunning && job.TemporalWorkflowID != "" {
		progress, queryErr := s.workflowClient.Progress(ctx, job.TemporalWorkflowID)
		if queryErr == nil {
			resp.Phase = progress.Phase
			resp.TotalItems = progress.TotalItems
			resp.Processed = progress.Processed
			resp.Errored = progress.Errored
			resp.NeedsReview = progress.NeedsReview
			resp.InFlight = progress.InFlight
			resp.PauseRequested = progress.Paused
		} else {
			// Stale counters are better than a failed progress read.
			s.logger.Warn().Err(queryErr).Str("jobID", jobID.String()).Msg("workflow progress query failed")
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// pauseJob handles POST /api/v1/jobs/{jobID}/pause.
// It signals the running workflow to stop dispatching new items; in-flight
// items drain and the job is left paused.
func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	var pauseReq pauseJobRequest
	if r.Body != nil && r.ContentLength != 0 {
		defer r.Body.Close()
		if body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize)); err == nil && len(body) > 0 {
			_ = json.Unmarshal(body, &pauseReq)
		}
	}

	job, err := s.jobRepo.Get(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if job.Status != domain.JobStatusRunning {
		writeDomainError(w, fmt.Errorf("%w: job is %s", domain.ErrJobNotPausable, job.Status))
		return
	}

	workflowID := job.TemporalWorkflowID
	if workflowID == "" {
		workflowID = temporal.WorkflowIDForJob(job.ID)
	}

	if err := s.workflowClient.PauseWorkflow(ctx, workflowID, pauseReq.RequestedBy); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, jobActionResponse{
		JobID:   jobID.String(),
		Status:  string(job.Status),
		Message: "pause requested; in-flight items will drain",
	})
}

// resumeJob handles POST /api/v1/jobs/{jobID}/resume.
// It starts a fresh workflow run that picks up the job's queued items and
// re-selects items that ended the previous pass in error.
func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobRepo.Get(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if job.Status != domain.JobStatusPaused {
		writeDomainError(w, fmt.Errorf("%w: job is %s", domain.ErrJobNotResumable, job.Status))
		return
	}

	workflowID, runID, err := s.workflowClient.StartBatchWorkflow(ctx, temporal.BatchWorkflowInput{
		JobID:  job.ID,
		Resume: true,
	}, s.workflowFunc)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_ = s.jobRepo.Update(ctx, job.ID, func(j *domain.BatchJob) error {
		j.TemporalWorkflowID = workflowID
		return nil
	})

	s.logger.Info().
		Str("jobID", jobID.String()).
		Str("workflowID", workflowID).
		Str("runID", runID).
		Msg("batch job resumed")

	writeJSON(w, http.StatusAccepted, jobActionResponse{
		JobID:      jobID.String(),
		WorkflowID: workflowID,
		Status:     string(domain.JobStatusPaused),
		Message:    "resume started",
	})
}

// cancelJob handles POST /api/v1/jobs/{jobID}/cancel.
// It cancels the job's workflow; the run drains in-flight items and the job
// is marked failed.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobRepo.Get(ctx, jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if job.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "job is already in terminal state")
		return
	}

	workflowID := job.TemporalWorkflowID
	if workflowID == "" {
		workflowID = temporal.WorkflowIDForJob(job.ID)
	}

	if err := s.workflowClient.CancelWorkflow(ctx, workflowID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, jobActionResponse{
		JobID:   jobID.String(),
		Status:  string(job.Status),
		Message: "cancellation requested",
	})
}

// writeDomainError maps domain and temporal errors to appropriate HTTP status
// codes and writes a JSON error response. Internal error details are not
// leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrJobNotPausable):
		writeError(w, http.StatusConflict, "job is not running")
	case errors.Is(err, domain.ErrJobNotResumable):
		writeError(w, http.StatusConflict, "job is not paused")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "status transition not allowed")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	case errors.Is(err, temporal.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "workflow not found")
	case errors.Is(err, temporal.ErrWorkflowAlreadyStarted):
		writeError(w, http.StatusConflict, "workflow already started")
	case errors.Is(err, temporal.ErrConnectionFailed):
		writeError(w, http.StatusServiceUnavailable, "workflow service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// formatValidationError renders the first struct validation failure as a
// client-facing message.
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("invalid request: field %s failed validation (%s)", fieldToJSONName(fe.Field()), fe.Tag())
	}
	return "invalid request"
}

// fieldToJSONName converts a Go struct field name to its snake_case JSON name.
func fieldToJSONName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// Returns the parsed UUID and true on success, or uuid.Nil and false on failure.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodePageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodePageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
