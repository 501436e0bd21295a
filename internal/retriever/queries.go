package retriever

import (
	"strings"

	"github.com/stavmatch/boq-matching-service/internal/domain"
	"github.com/stavmatch/boq-matching-service/internal/normalizer"
)

// catalogMarker steers catalog search engines toward price-list entries.
const catalogMarker = "ceník"

// buildQueries generates the search queries for one subwork. The depth
// selects how many of the four query shapes run:
//
//	quick  (2): strict, expanded
//	normal (3): strict, expanded, reverse
//	deep   (4): strict, expanded, reverse, deep
//
// Queries run in this order; the strict query is the most selective and the
// deep query the broadest.
func buildQueries(subWork domain.SubWork, depth domain.SearchDepth) []string {
	synonyms := normalizer.OperationSynonyms(subWork.Operation)
	canonical := synonyms[0]

	queries := make([]string, 0, depth.QueryCount())
	queries = append(queries, strictQuery(canonical, subWork.Keywords))
	queries = append(queries, expandedQuery(synonyms, subWork.Keywords))

	if depth.QueryCount() >= 3 {
		queries = append(queries, reverseQuery(canonical, subWork.Keywords))
	}
	if depth.QueryCount() >= 4 {
		queries = append(queries, deepQuery(subWork.Text))
	}

	return dedupeQueries(queries)
}

// strictQuery is the operation term plus the top keywords and the catalog
// marker.
func strictQuery(operation string, keywords []string) string {
	parts := append([]string{operation}, topKeywords(keywords, 2)...)
	parts = append(parts, catalogMarker)
	return strings.Join(parts, " ")
}

// expandedQuery uses an operation synonym and the catalog marker to widen
// the match set.
func expandedQuery(synonyms []string, keywords []string) string {
	term := synonyms[0]
	if len(synonyms) > 1 {
		term = synonyms[1]
	}
	parts := append([]string{term}, topKeywords(keywords, 1)...)
	parts = append(parts, catalogMarker)
	return strings.Join(parts, " ")
}

// reverseQuery puts the object/material keywords first, matching catalogs
// that index by subject rather than by operation.
func reverseQuery(operation string, keywords []string) string {
	parts := append([]string{}, topKeywords(keywords, 3)...)
	parts = append(parts, operation)
	return strings.Join(parts, " ")
}

// deepQuery is the full subwork text plus the catalog marker.
func deepQuery(text string) string {
	return text + " " + catalogMarker
}

func topKeywords(keywords []string, n int) []string {
	if len(keywords) < n {
		n = len(keywords)
	}
	return keywords[:n]
}

// dedupeQueries drops duplicate queries, which arise when a subwork has no
// keywords and the query shapes collapse into each other.
func dedupeQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := queries[:0]
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
