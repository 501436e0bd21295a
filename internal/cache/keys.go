package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// Pipeline stages the cache is scoped by. Keys from different stages never
// collide even for identical inputs because the stage is part of the
// hashed material and of the storage key.
const (
	StageSplit    = "split"
	StageRetrieve = "retrieve"
	StageRerank   = "rerank"
)

// fieldSep separates hashed fields. Chosen so that concatenation cannot
// produce the same digest for different field splits of the same bytes.
const fieldSep = "\x1f"

// SplitKey derives the cache key for a splitter call. The key covers the
// normalized text and the subwork cap, because truncation changes the stored
// result.
func SplitKey(normalizedText string, maxSubWorks int) string {
	return hashFields(StageSplit, normalizedText, fmt.Sprintf("max=%d", maxSubWorks))
}

// RetrieveKey derives the cache key for a retrieval call. The key covers the
// subwork text, its keywords and the search depth.
func RetrieveKey(subWorkText string, keywords []string, depth domain.SearchDepth) string {
	return hashFields(StageRetrieve, subWorkText, strings.Join(keywords, ","), string(depth))
}

// RerankKey derives the cache key for a reranking call. Only the candidate
// codes participate, sorted, so that cosmetic changes to candidate names or
// snippets do not invalidate a cached ranking decision.
func RerankKey(subWorkText string, candidates []domain.Candidate, topN int) string {
	codes := make([]string, 0, len(candidates))
	for _, c := range candidates {
		codes = append(codes, c.Code)
	}
	sort.Strings(codes)

	return hashFields(StageRerank, subWorkText, strings.Join(codes, ","), fmt.Sprintf("top=%d", topN))
}

func hashFields(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte(fieldSep))
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
