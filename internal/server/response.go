package server

import (
	"time"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// submitJobResponse is returned from POST /jobs.
type submitJobResponse struct {
	JobID      string    `json:"job_id"`
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"`
	TotalItems int       `json:"total_items"`
	CreatedAt  time.Time `json:"created_at"`
}

// jobStatusResponse is the full job representation.
type jobStatusResponse struct {
	JobID            string             `json:"job_id"`
	Name             string             `json:"name"`
	Status           string             `json:"status"`
	Settings         domain.JobSettings `json:"settings"`
	TotalItems       int                `json:"total_items"`
	ProcessedCount   int                `json:"processed_count"`
	ErrorCount       int                `json:"error_count"`
	NeedsReviewCount int                `json:"needs_review_count"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	WorkflowID       string             `json:"workflow_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
}

// jobSummaryResponse is the compact job representation used in listings.
type jobSummaryResponse struct {
	JobID            string    `json:"job_id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	TotalItems       int       `json:"total_items"`
	ProcessedCount   int       `json:"processed_count"`
	ErrorCount       int       `json:"error_count"`
	NeedsReviewCount int       `json:"needs_review_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// listJobsResponse is returned from GET /jobs.
type listJobsResponse struct {
	Jobs          []jobSummaryResponse `json:"jobs"`
	NextPageToken string               `json:"next_page_token,omitempty"`
	TotalCount    int                  `json:"total_count"`
}

// itemResponse is one BOQ line with its pipeline state and match results.
type itemResponse struct {
	ItemID         string                 `json:"item_id"`
	LineNo         int                    `json:"line_no"`
	OriginalText   string                 `json:"original_text"`
	Status         string                 `json:"status"`
	NormalizedText string                 `json:"normalized_text,omitempty"`
	DetectedType   string                 `json:"detected_type,omitempty"`
	SubWorks       []domain.SubWork       `json:"sub_works,omitempty"`
	Results        []domain.SubWorkResult `json:"results,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// listItemsResponse is returned from GET /jobs/{jobID}/items.
type listItemsResponse struct {
	Items         []itemResponse `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
	TotalCount    int            `json:"total_count"`
}

// jobProgressResponse is returned from GET /jobs/{jobID}/progress.
type jobProgressResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	Phase          string `json:"phase,omitempty"`
	TotalItems     int    `json:"total_items"`
	Processed      int    `json:"processed"`
	Errored        int    `json:"errored"`
	NeedsReview    int    `json:"needs_review"`
	InFlight       int    `json:"in_flight"`
	PauseRequested bool   `json:"pause_requested,omitempty"`
}

// jobActionResponse is returned from pause, resume and cancel actions.
type jobActionResponse struct {
	JobID      string `json:"job_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func domainJobToResponse(j *domain.BatchJob) jobStatusResponse {
	return jobStatusResponse{
		JobID:            j.ID.String(),
		Name:             j.Name,
		Status:           string(j.Status),
		Settings:         j.Settings,
		TotalItems:       j.TotalItems,
		ProcessedCount:   j.ProcessedCount,
		ErrorCount:       j.ErrorCount,
		NeedsReviewCount: j.NeedsReviewCount,
		ErrorMessage:     j.ErrorMessage,
		WorkflowID:       j.TemporalWorkflowID,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}

func domainJobToSummary(j *domain.BatchJob) jobSummaryResponse {
	return jobSummaryResponse{
		JobID:            j.ID.String(),
		Name:             j.Name,
		Status:           string(j.Status),
		TotalItems:       j.TotalItems,
		ProcessedCount:   j.ProcessedCount,
		ErrorCount:       j.ErrorCount,
		NeedsReviewCount: j.NeedsReviewCount,
		CreatedAt:        j.CreatedAt,
	}
}

func domainItemToResponse(item *domain.BatchItem) itemResponse {
	return itemResponse{
		ItemID:         item.ID.String(),
		LineNo:         item.LineNo,
		OriginalText:   item.OriginalText,
		Status:         string(item.Status),
		NormalizedText: item.NormalizedText,
		DetectedType:   string(item.DetectedType),
		SubWorks:       item.SubWorks,
		Results:        item.Results,
		ErrorMessage:   item.ErrorMessage,
		UpdatedAt:      item.UpdatedAt,
	}
}
