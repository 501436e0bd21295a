package reranker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/llm"
)

// mockLLM implements llm.Client for reranker tests.
type mockLLM struct {
	response  string
	err       error
	callCount int
	lastUser  string
}

func (m *mockLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.callCount++
	m.lastUser = req.User
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Content: m.response, Model: "test-model"}, nil
}

func (m *mockLLM) Provider() string { return "mock" }
func (m *mockLLM) Model() string    { return "test-model" }

func newReranker(client llm.Client) *Reranker {
	return New(client, nil, zerolog.Nop(), nil)
}

func testSubWork() domain.SubWork {
	return domain.SubWork{
		Index:     1,
		Text:      "betonáž stěn z betonu C 25/30",
		Operation: domain.OperationConcreting,
		Keywords:  []string{"beton", "stěna"},
	}
}

func testCandidates() []domain.Candidate {
	return []domain.Candidate{
		{Code: "121-01", Name: "Betonáž stěn", Unit: "m3", Snippet: "nosné stěny C 25/30", Source: "urs"},
		{Code: "121-02", Name: "Betonáž sloupů", Unit: "m3", Source: "urs"},
		{Code: "311-05", Name: "Zdivo nosné", Unit: "m2", Source: "rts"},
	}
}

func TestRerank_SelectsAndScores(t *testing.T) {
	client := &mockLLM{response: `{
		"top_candidates": [
			{"rank": 1, "code": "121-01", "score": 92, "confidence": "high", "reason": "same operation and class", "evidence": "C 25/30", "needs_review": false},
			{"rank": 2, "code": "121-02", "score": 71, "confidence": "medium", "reason": "same operation, different element", "needs_review": false}
		],
		"reasoning": "wall concreting dominates"
	}`}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 3)

	require.Len(t, result.TopCandidates, 2)
	assert.False(t, result.Degraded)
	assert.False(t, result.NeedsReview())

	first := result.TopCandidates[0]
	assert.Equal(t, "121-01", first.Code)
	// Catalog fields come from the input set, not from the service.
	assert.Equal(t, "Betonáž stěn", first.Name)
	assert.Equal(t, "m3", first.Unit)
	assert.Equal(t, "urs", first.Source)
	require.NotNil(t, first.Score)
	assert.Equal(t, 92, *first.Score)
	assert.Equal(t, domain.ConfidenceHigh, first.Confidence)
	assert.Contains(t, first.Reason, "C 25/30")
}

func TestRerank_EmptyInputShortCircuits(t *testing.T) {
	client := &mockLLM{}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), nil, 3)

	assert.Empty(t, result.TopCandidates)
	assert.NotEmpty(t, result.Reasoning)
	assert.Zero(t, client.callCount, "no external call for empty input")
}

func TestRerank_FabricatedCodeReplacedWithUnknown(t *testing.T) {
	client := &mockLLM{response: `{
		"top_candidates": [
			{"rank": 1, "code": "999-99", "score": 95, "confidence": "high", "needs_review": false},
			{"rank": 2, "code": "121-01", "score": 80, "confidence": "medium", "needs_review": false}
		]
	}`}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 3)

	require.Len(t, result.TopCandidates, 2)

	sentinel := result.TopCandidates[0]
	assert.True(t, sentinel.IsUnknown())
	assert.Equal(t, domain.ConfidenceLow, sentinel.Confidence)
	assert.True(t, sentinel.NeedsReview)
	assert.Contains(t, sentinel.Reason, "999-99")

	assert.Equal(t, "121-01", result.TopCandidates[1].Code)
	assert.True(t, result.NeedsReview())
}

func TestRerank_ScoreClampedAndReviewForced(t *testing.T) {
	client := &mockLLM{response: `{
		"top_candidates": [
			{"rank": 1, "code": "121-01", "score": 140, "confidence": "high", "needs_review": false},
			{"rank": 2, "code": "121-02", "score": -10, "confidence": "high", "needs_review": false},
			{"rank": 3, "code": "311-05", "score": 75, "confidence": "low", "needs_review": false}
		]
	}`}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 3)
	require.Len(t, result.TopCandidates, 3)

	assert.Equal(t, 100, *result.TopCandidates[0].Score)
	assert.False(t, result.TopCandidates[0].NeedsReview)

	// Clamped to zero, which is under the review threshold.
	assert.Equal(t, 0, *result.TopCandidates[1].Score)
	assert.True(t, result.TopCandidates[1].NeedsReview)

	// Low confidence forces review even with a passing score.
	assert.True(t, result.TopCandidates[2].NeedsReview)
}

func TestRerank_TopNCapped(t *testing.T) {
	client := &mockLLM{response: `{
		"top_candidates": [
			{"rank": 1, "code": "121-01", "score": 90, "confidence": "high"},
			{"rank": 2, "code": "121-02", "score": 80, "confidence": "medium"},
			{"rank": 3, "code": "311-05", "score": 70, "confidence": "medium"}
		]
	}`}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 2)
	assert.Len(t, result.TopCandidates, 2)
}

func TestRerank_FallbackOnCallFailure(t *testing.T) {
	client := &mockLLM{err: errors.New("overloaded")}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 3)

	assert.True(t, result.Degraded)
	require.Len(t, result.TopCandidates, 1)
	assert.True(t, result.TopCandidates[0].IsUnknown())
	assert.True(t, result.TopCandidates[0].NeedsReview)
	assert.Contains(t, result.TopCandidates[0].Reason, "overloaded")
}

func TestRerank_FallbackOnUnparseableResponse(t *testing.T) {
	client := &mockLLM{response: "the best match is 121-01"}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 3)

	assert.True(t, result.Degraded)
	require.Len(t, result.TopCandidates, 1)
	assert.True(t, result.TopCandidates[0].IsUnknown())
}

func TestRerank_EmptyRankingFallsBack(t *testing.T) {
	client := &mockLLM{response: `{"top_candidates": [], "reasoning": "none fit"}`}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 3)

	assert.True(t, result.Degraded)
	require.Len(t, result.TopCandidates, 1)
	assert.True(t, result.TopCandidates[0].IsUnknown())
}

func TestRerank_UnknownSentinelFromServiceAccepted(t *testing.T) {
	// The hard rule tells the service to answer UNKNOWN when nothing
	// scores 50 or more; that code is outside the candidate set and is
	// normalized through the sentinel path.
	client := &mockLLM{response: `{
		"top_candidates": [{"rank": 1, "code": "UNKNOWN", "score": 0, "confidence": "low", "reason": "no operation match", "needs_review": true}]
	}`}

	result := newReranker(client).Rerank(context.Background(), testSubWork(), testCandidates(), 3)

	require.Len(t, result.TopCandidates, 1)
	assert.True(t, result.TopCandidates[0].IsUnknown())
	assert.True(t, result.TopCandidates[0].NeedsReview)
	assert.False(t, result.Degraded)
}

func TestBuildUserPrompt_EnumeratesCandidates(t *testing.T) {
	prompt := buildUserPrompt(testSubWork(), testCandidates(), 2)

	assert.Contains(t, prompt, "betonáž stěn z betonu C 25/30")
	assert.Contains(t, prompt, "code=121-01")
	assert.Contains(t, prompt, "detail=nosné stěny C 25/30")
	assert.Contains(t, prompt, "Return the best 2 candidates")
}
