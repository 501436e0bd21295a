// Package catalog provides clients for searching construction pricing
// catalogs.
//
// Each catalog system (ÚRS, RTS, local offline catalog) implements the
// CatalogSource interface, allowing the retriever to query sources with a
// unified API and fall back between them. Zero results is a valid outcome
// for any source, never an error.
//
// Example usage:
//
//	source := urs.New(cfg)
//	result, err := source.Search(ctx, catalog.SearchParams{
//		Query:      "betonáž stěn C 25/30",
//		MaxResults: 20,
//	})
package catalog

import (
	"context"
	"time"

	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// Source names used for candidate provenance and metrics labels.
const (
	SourceURS   = "urs"
	SourceRTS   = "rts"
	SourceLocal = "local"
)

// SearchParams defines the parameters for a catalog search.
type SearchParams struct {
	// Query is the free-text search query (required).
	Query string

	// MaxResults limits the number of candidates returned in a single
	// request. A value of 0 uses the source's default limit.
	MaxResults int
}

// SearchResult contains the candidates from one catalog search.
type SearchResult struct {
	// Candidates are the matching catalog entries. May be empty when
	// nothing matches the query; that is an expected outcome.
	Candidates []domain.Candidate

	// TotalResults is the total match count reported by the source,
	// regardless of the result limit. May be an estimate.
	TotalResults int

	// Source identifies which catalog produced these candidates.
	Source string

	// TopScore is the best lexical match score in [0,1] when the source
	// scores its own results (the local catalog does). Zero otherwise.
	TopScore float64

	// SearchDuration is the time taken to execute the search, including
	// network latency and response parsing.
	SearchDuration time.Duration
}

// CatalogSource defines the interface all catalog clients implement.
type CatalogSource interface {
	// Search queries the catalog for entries matching the given parameters.
	// The context should be used for cancellation and deadline propagation.
	//
	// Implementations should:
	//   - Respect context cancellation
	//   - Apply rate limiting as needed
	//   - Transform source-specific responses to domain.Candidate
	//   - Treat zero matches as a valid result, not an error
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceName returns the source identifier used for candidate
	// provenance and metrics labels.
	SourceName() string

	// IsEnabled returns whether this source is available for searches.
	// A source may be disabled by configuration or a missing API key.
	IsEnabled() bool
}
