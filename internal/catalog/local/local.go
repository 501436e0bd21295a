// Package local provides an offline catalog source backed by a JSON file.
//
// The local catalog is consulted before any remote source. Matching is
// lexical: queries and entries are tokenized and scored by weighted token
// overlap. When the best score reaches the configured short-circuit
// threshold, the retriever skips remote search entirely for that query.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stavmatch/boq-matching-service/internal/catalog"
	"github.com/stavmatch/boq-matching-service/internal/domain"
)

// DefaultMaxResults is the default maximum results per query.
const DefaultMaxResults = 20

// Config holds configuration for the local catalog.
type Config struct {
	// Path is the JSON catalog file location.
	Path string

	// MaxResults is the maximum results per query. Defaults to 20.
	MaxResults int

	// Enabled indicates whether the local catalog is consulted.
	Enabled bool
}

// Entry is one catalog item in the JSON file.
type Entry struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Unit        string   `json:"unit"`
	Price       *float64 `json:"price,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Catalog implements catalog.CatalogSource over an in-memory entry list
// loaded once at startup. It is immutable after Load and safe for
// concurrent use.
type Catalog struct {
	config  Config
	entries []indexedEntry
}

// indexedEntry caches the tokenized form of an entry so scoring does not
// re-tokenize the catalog on every query.
type indexedEntry struct {
	entry  Entry
	tokens map[string]struct{}
}

var _ catalog.CatalogSource = (*Catalog)(nil)

// Load reads the JSON catalog file and builds the in-memory index.
// The file holds a flat JSON array of entries.
func Load(cfg Config) (*Catalog, error) {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if !cfg.Enabled {
		return &Catalog{config: cfg}, nil
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	return NewFromEntries(cfg, entries), nil
}

// NewFromEntries builds a catalog from an already-loaded entry list.
// Entries without a code are skipped.
func NewFromEntries(cfg Config, entries []Entry) *Catalog {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	indexed := make([]indexedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Code == "" {
			continue
		}
		text := strings.Join(append([]string{e.Name, e.Description}, e.Keywords...), " ")
		indexed = append(indexed, indexedEntry{
			entry:  e,
			tokens: tokenSet(text),
		})
	}

	return &Catalog{
		config:  cfg,
		entries: indexed,
	}
}

// Len returns the number of indexed entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Search scores every entry against the query and returns the best matches
// in descending score order. TopScore carries the best score in [0,1] so the
// retriever can decide whether to short-circuit remote search.
func (c *Catalog) Search(ctx context.Context, params catalog.SearchParams) (*catalog.SearchResult, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := tokenSet(params.Query)
	if len(queryTokens) == 0 {
		return &catalog.SearchResult{
			Source:         catalog.SourceLocal,
			SearchDuration: time.Since(startTime),
		}, nil
	}

	type scored struct {
		entry Entry
		score float64
	}

	var matches []scored
	for _, ie := range c.entries {
		score := overlapScore(queryTokens, ie.tokens)
		if score > 0 {
			matches = append(matches, scored{entry: ie.entry, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	maxResults := params.MaxResults
	if maxResults <= 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}

	total := len(matches)
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}

	var topScore float64
	candidates := make([]domain.Candidate, 0, len(matches))
	for _, m := range matches {
		if m.score > topScore {
			topScore = m.score
		}
		candidates = append(candidates, domain.Candidate{
			Code:    m.entry.Code,
			Name:    m.entry.Name,
			Unit:    m.entry.Unit,
			Price:   m.entry.Price,
			Snippet: m.entry.Description,
			Source:  catalog.SourceLocal,
		})
	}

	return &catalog.SearchResult{
		Candidates:     candidates,
		TotalResults:   total,
		Source:         catalog.SourceLocal,
		TopScore:       topScore,
		SearchDuration: time.Since(startTime),
	}, nil
}

// SourceName returns the source identifier.
func (c *Catalog) SourceName() string {
	return catalog.SourceLocal
}

// IsEnabled reports whether the catalog is configured and holds entries.
func (c *Catalog) IsEnabled() bool {
	return c.config.Enabled && len(c.entries) > 0
}

var tokenSplitRe = regexp.MustCompile(`[\s,;:()\[\]"']+`)

// tokenSet lowercases and splits text into a set of tokens, dropping tokens
// shorter than two runes.
func tokenSet(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenSplitRe.Split(strings.ToLower(text), -1) {
		if len([]rune(tok)) < 2 {
			continue
		}
		tokens[tok] = struct{}{}
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the entry token
// set. A query fully covered by an entry scores 1.0.
func overlapScore(query, entry map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if _, ok := entry[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
