// Package domain provides domain models and business logic for the BOQ Matching Service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle states of a batch matching job.
// These values must match the database enum job_status.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// ItemStatus represents the pipeline stage of a single BOQ line item.
// The status only advances forward through the stage sequence, except that
// "error" is reachable from any stage and a reprocessing pass re-enters
// from "queued".
type ItemStatus string

const (
	ItemStatusQueued      ItemStatus = "queued"
	ItemStatusParsed      ItemStatus = "parsed"
	ItemStatusSplit       ItemStatus = "split"
	ItemStatusRetrieved   ItemStatus = "retrieved"
	ItemStatusRanked      ItemStatus = "ranked"
	ItemStatusDone        ItemStatus = "done"
	ItemStatusNeedsReview ItemStatus = "needs_review"
	ItemStatusError       ItemStatus = "error"
)

// IsTerminal returns true if the item has finished its current processing pass.
// Error items are terminal for the pass but are re-selected on resume.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusDone, ItemStatusNeedsReview, ItemStatusError:
		return true
	default:
		return false
	}
}

// SearchDepth controls how many catalog queries the retriever generates per subwork.
type SearchDepth string

const (
	SearchDepthQuick  SearchDepth = "quick"
	SearchDepthNormal SearchDepth = "normal"
	SearchDepthDeep   SearchDepth = "deep"
)

// QueryCount returns the number of search queries generated at this depth.
func (d SearchDepth) QueryCount() int {
	switch d {
	case SearchDepthQuick:
		return 2
	case SearchDepthDeep:
		return 4
	default:
		return 3
	}
}

// JobSettings holds the per-job processing knobs. Stored as a JSON snapshot on
// the job row so later setting changes never affect an in-flight run.
type JobSettings struct {
	// Concurrency is the bounded worker fan-out for item processing.
	Concurrency int `json:"concurrency"`

	// SearchDepth controls query generation per subwork (quick, normal, deep).
	SearchDepth SearchDepth `json:"search_depth"`

	// MaxSubWorks caps the number of subworks a composite line may decompose into.
	MaxSubWorks int `json:"max_sub_works"`

	// CandidatesPerWork is how many ranked candidates are kept per subwork.
	CandidatesPerWork int `json:"candidates_per_work"`
}

// Default job settings applied when a submission omits them.
const (
	DefaultConcurrency       = 3
	DefaultMaxSubWorks       = 5
	DefaultCandidatesPerWork = 3
)

// ApplyDefaults fills zero-valued settings with their defaults.
func (s *JobSettings) ApplyDefaults() {
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.SearchDepth == "" {
		s.SearchDepth = SearchDepthNormal
	}
	if s.MaxSubWorks <= 0 {
		s.MaxSubWorks = DefaultMaxSubWorks
	}
	if s.CandidatesPerWork <= 0 {
		s.CandidatesPerWork = DefaultCandidatesPerWork
	}
}

// BatchJob is one batch matching run over a list of BOQ lines.
// Mutated only by the coordinator; terminal on completed/failed.
type BatchJob struct {
	// ID is the unique job identifier.
	ID uuid.UUID

	// Name is a human-readable label for the job.
	Name string

	// Status is the current lifecycle state.
	Status JobStatus

	// Settings is the processing configuration snapshot for this run.
	Settings JobSettings

	// TotalItems is the number of input lines in the job.
	TotalItems int

	// ProcessedCount is the number of items that finished a pass (done, needs_review or error).
	ProcessedCount int

	// ErrorCount is the number of items that ended the pass in error.
	ErrorCount int

	// NeedsReviewCount is the number of items flagged for human verification.
	NeedsReviewCount int

	// ErrorMessage holds the orchestration-level failure message when Status is failed.
	ErrorMessage string

	// TemporalWorkflowID is the workflow execution driving this job, if any.
	TemporalWorkflowID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ItemContext carries optional structured context for a BOQ line, such as the
// section heading it appears under and neighbouring lines.
type ItemContext struct {
	// ParentText is the enclosing section or group heading, if known.
	ParentText string `json:"parent_text,omitempty"`

	// SiblingText holds adjacent lines that may disambiguate the item.
	SiblingText []string `json:"sibling_text,omitempty"`
}

// BatchItem is one input BOQ line within a job. One row per line; mutated
// exclusively by the coordinator as it advances through pipeline stages and
// never deleted during a run.
type BatchItem struct {
	// ID is the unique item identifier.
	ID uuid.UUID

	// JobID is the parent batch job.
	JobID uuid.UUID

	// LineNo is the 1-based position of the line in the submitted bill.
	LineNo int

	// OriginalText is the raw line as submitted.
	OriginalText string

	// Context is optional structured context for the line.
	Context *ItemContext

	// Status is the current pipeline stage.
	Status ItemStatus

	// NormalizedText is the cleaned text produced by the normalizer.
	NormalizedText string

	// DetectedType is the SINGLE/COMPOSITE/UNKNOWN classification.
	DetectedType WorkType

	// SubWorks is the ordered decomposition produced by the splitter.
	SubWorks []SubWork

	// Results holds the per-subwork match results, in subwork index order.
	Results []SubWorkResult

	// ErrorMessage describes the failure when Status is error.
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubWorkResult is the persisted outcome of matching one subwork against the
// catalog: the queries used, the surviving ranked candidates and any
// stage-local degradation notes.
type SubWorkResult struct {
	// SubWorkIndex ties the result to its subwork (1-based).
	SubWorkIndex int `json:"sub_work_index"`

	// Candidates is the final ranked candidate list, best first.
	Candidates []Candidate `json:"candidates"`

	// QueriesUsed records the catalog queries executed for this subwork.
	QueriesUsed []string `json:"queries_used,omitempty"`

	// Reasoning is the reranker's explanation of its selection.
	Reasoning string `json:"reasoning,omitempty"`

	// RetrievalError is set when retrieval produced zero candidates or failed.
	RetrievalError string `json:"retrieval_error,omitempty"`

	// NeedsReview marks the subwork as requiring human verification.
	NeedsReview bool `json:"needs_review"`
}
