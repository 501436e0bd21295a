package domain

// WorkType classifies whether a BOQ line describes one atomic operation or a
// composite of several operations requiring separate catalog matches.
type WorkType string

const (
	WorkTypeSingle    WorkType = "SINGLE"
	WorkTypeComposite WorkType = "COMPOSITE"
	WorkTypeUnknown   WorkType = "UNKNOWN"
)

// ParseWorkType coerces an externally supplied value into the closed
// enumeration, defaulting to UNKNOWN.
func ParseWorkType(s string) WorkType {
	switch WorkType(s) {
	case WorkTypeSingle, WorkTypeComposite:
		return WorkType(s)
	default:
		return WorkTypeUnknown
	}
}

// Operation is the closed enumeration of construction-operation kinds a
// subwork can be classified as.
type Operation string

const (
	OperationConcreting   Operation = "concreting"
	OperationMasonry      Operation = "masonry"
	OperationReinforcing  Operation = "reinforcing"
	OperationFormwork     Operation = "formwork"
	OperationExcavation   Operation = "excavation"
	OperationDemolition   Operation = "demolition"
	OperationTransport    Operation = "transport"
	OperationDisposal     Operation = "disposal"
	OperationInsulation   Operation = "insulation"
	OperationPlastering   Operation = "plastering"
	OperationPaving       Operation = "paving"
	OperationInstallation Operation = "installation"
	OperationOther        Operation = "other"
)

// ParseOperation coerces an externally supplied value into the closed
// enumeration, defaulting to OperationOther.
func ParseOperation(s string) Operation {
	switch Operation(s) {
	case OperationConcreting, OperationMasonry, OperationReinforcing,
		OperationFormwork, OperationExcavation, OperationDemolition,
		OperationTransport, OperationDisposal, OperationInsulation,
		OperationPlastering, OperationPaving, OperationInstallation:
		return Operation(s)
	default:
		return OperationOther
	}
}

// Confidence grades how much a classification or ranking decision can be trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence coerces an externally supplied value into the closed
// enumeration, defaulting to low.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceHigh, ConfidenceMedium:
		return Confidence(s)
	default:
		return ConfidenceLow
	}
}

// SubWork is one atomic operation extracted from a (possibly composite) BOQ
// line, independently searchable against the catalog. SubWorks are ephemeral:
// they are persisted only as JSON embedded in their parent BatchItem.
type SubWork struct {
	// Index is the 1-based, stable ordering within the decomposition.
	Index int `json:"index"`

	// Text is the search-ready description of the operation.
	Text string `json:"text"`

	// Operation is the construction-operation kind.
	Operation Operation `json:"operation"`

	// Keywords are the salient search terms for this operation.
	Keywords []string `json:"keywords,omitempty"`
}

// UnknownCandidateCode is the sentinel code used when no trustworthy catalog
// match exists, including when a fabricated code is detected and replaced.
const UnknownCandidateCode = "UNKNOWN"

// Candidate is a catalog entry proposed as a possible match for a SubWork.
// Candidates are transient search results; a ranked subset survives as the
// subwork's final output.
type Candidate struct {
	// Code is the catalog identifier (opaque string).
	Code string `json:"code"`

	// Name is the catalog entry description.
	Name string `json:"name"`

	// Unit is the measurement unit of the catalog entry.
	Unit string `json:"unit"`

	// Price is the unit price, when the source provides one.
	Price *float64 `json:"price,omitempty"`

	// Snippet is the source text fragment the candidate was found in.
	Snippet string `json:"snippet,omitempty"`

	// Source identifies which search collaborator produced the candidate.
	Source string `json:"source,omitempty"`

	// Score is the reranker score in [0,100]; nil before reranking.
	Score *int `json:"score,omitempty"`

	// Confidence grades the match quality after reranking.
	Confidence Confidence `json:"confidence,omitempty"`

	// Reason is the reranker's justification for the score.
	Reason string `json:"reason,omitempty"`

	// NeedsReview marks the candidate as requiring human verification.
	NeedsReview bool `json:"needs_review,omitempty"`
}

// IsUnknown reports whether the candidate is the no-match sentinel.
func (c Candidate) IsUnknown() bool {
	return c.Code == UnknownCandidateCode
}

// UnknownCandidate builds the low-confidence no-match sentinel with the given reason.
func UnknownCandidate(reason string) Candidate {
	zero := 0
	return Candidate{
		Code:        UnknownCandidateCode,
		Name:        "no reliable catalog match",
		Score:       &zero,
		Confidence:  ConfidenceLow,
		Reason:      reason,
		NeedsReview: true,
	}
}
