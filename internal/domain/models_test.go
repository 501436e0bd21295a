package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusQueued, false},
		{JobStatusRunning, false},
		{JobStatusPaused, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestItemStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   ItemStatus
		terminal bool
	}{
		{ItemStatusQueued, false},
		{ItemStatusParsed, false},
		{ItemStatusSplit, false},
		{ItemStatusRetrieved, false},
		{ItemStatusRanked, false},
		{ItemStatusDone, true},
		{ItemStatusNeedsReview, true},
		{ItemStatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestSearchDepthQueryCount(t *testing.T) {
	assert.Equal(t, 2, SearchDepthQuick.QueryCount())
	assert.Equal(t, 3, SearchDepthNormal.QueryCount())
	assert.Equal(t, 4, SearchDepthDeep.QueryCount())
	assert.Equal(t, 3, SearchDepth("bogus").QueryCount())
}

func TestJobSettingsApplyDefaults(t *testing.T) {
	t.Run("fills zero values", func(t *testing.T) {
		var s JobSettings
		s.ApplyDefaults()

		assert.Equal(t, DefaultConcurrency, s.Concurrency)
		assert.Equal(t, SearchDepthNormal, s.SearchDepth)
		assert.Equal(t, DefaultMaxSubWorks, s.MaxSubWorks)
		assert.Equal(t, DefaultCandidatesPerWork, s.CandidatesPerWork)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		s := JobSettings{
			Concurrency:       8,
			SearchDepth:       SearchDepthDeep,
			MaxSubWorks:       10,
			CandidatesPerWork: 5,
		}
		s.ApplyDefaults()

		assert.Equal(t, 8, s.Concurrency)
		assert.Equal(t, SearchDepthDeep, s.SearchDepth)
		assert.Equal(t, 10, s.MaxSubWorks)
		assert.Equal(t, 5, s.CandidatesPerWork)
	})
}

func TestParseWorkType(t *testing.T) {
	assert.Equal(t, WorkTypeSingle, ParseWorkType("SINGLE"))
	assert.Equal(t, WorkTypeComposite, ParseWorkType("COMPOSITE"))
	assert.Equal(t, WorkTypeUnknown, ParseWorkType("COMPLEX"))
	assert.Equal(t, WorkTypeUnknown, ParseWorkType(""))
}

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ParseConfidence("high"))
	assert.Equal(t, ConfidenceMedium, ParseConfidence("medium"))
	assert.Equal(t, ConfidenceLow, ParseConfidence("low"))
	assert.Equal(t, ConfidenceLow, ParseConfidence("certain"))
}

func TestUnknownCandidate(t *testing.T) {
	c := UnknownCandidate("no candidates retrieved")

	assert.True(t, c.IsUnknown())
	assert.Equal(t, UnknownCandidateCode, c.Code)
	assert.Equal(t, ConfidenceLow, c.Confidence)
	assert.True(t, c.NeedsReview)
	if assert.NotNil(t, c.Score) {
		assert.Equal(t, 0, *c.Score)
	}
}

func TestErrorUnwrapping(t *testing.T) {
	assert.True(t, errors.Is(NewNotFoundError("job", "abc"), ErrNotFound))
	assert.True(t, errors.Is(NewAlreadyExistsError("item", "abc"), ErrAlreadyExists))
	assert.True(t, errors.Is(NewValidationError("name", "required"), ErrInvalidInput))
	assert.True(t, errors.Is(NewInvalidTransitionError("job", "completed", "running"), ErrInvalidTransition))

	cause := errors.New("boom")
	apiErr := NewExternalAPIError("urs", 502, "bad gateway", cause)
	assert.True(t, errors.Is(apiErr, cause))
	assert.Contains(t, apiErr.Error(), "urs API error (status 502)")
}
