// Package urs provides a catalog client for the ÚRS pricing system API.
// ÚRS is the primary catalog: the retriever sends every generated query here
// first and only falls back to RTS when ÚRS returns zero candidates.
package urs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stavmatch/boq-matching-service/internal/catalog"
	"github.com/stavmatch/boq-matching-service/internal/domain"
)

const (
	// DefaultBaseURL is the default ÚRS catalog API base URL.
	DefaultBaseURL = "https://api.urs-katalog.cz"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per query.
	DefaultMaxResults = 20

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 << 20
)

// Config holds configuration for the ÚRS client.
type Config struct {
	// BaseURL is the ÚRS API base URL. Defaults to the production API.
	BaseURL string

	// APIKey authenticates requests via the X-API-Key header.
	APIKey string

	// Timeout is the request timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to 5.
	RateLimit float64

	// BurstSize is the maximum burst of requests. Defaults to 5.
	BurstSize int

	// MaxResults is the maximum results per query. Defaults to 20.
	MaxResults int

	// Enabled indicates whether this source is enabled for searches.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// searchResponse is the ÚRS API search response.
type searchResponse struct {
	Total int          `json:"total"`
	Items []searchItem `json:"items"`
}

// searchItem is one catalog entry in a search response.
type searchItem struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Unit        string   `json:"unit"`
	Price       *float64 `json:"price,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Client implements catalog.CatalogSource for the ÚRS pricing system.
type Client struct {
	config     Config
	httpClient *catalog.HTTPClient
}

var _ catalog.CatalogSource = (*Client)(nil)

// New creates a new ÚRS client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := catalog.NewHTTPClient(catalog.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "X-API-Key",
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates an ÚRS client with a custom HTTP client.
// Useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *catalog.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries the ÚRS catalog for entries matching the query.
// Zero matches is a valid result with an empty candidate list.
func (c *Client) Search(ctx context.Context, params catalog.SearchParams) (*catalog.SearchResult, error) {
	startTime := time.Now()

	maxResults := params.MaxResults
	if maxResults <= 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}

	q := url.Values{}
	q.Set("q", params.Query)
	q.Set("limit", strconv.Itoa(maxResults))
	searchURL := c.config.BaseURL + "/v1/items/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError(catalog.SourceURS, resp.StatusCode, string(body), nil)
	}

	var searchResp searchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(searchResp.Items))
	for _, item := range searchResp.Items {
		if item.Code == "" {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Code:    item.Code,
			Name:    item.Name,
			Unit:    item.Unit,
			Price:   item.Price,
			Snippet: item.Description,
			Source:  catalog.SourceURS,
		})
	}

	return &catalog.SearchResult{
		Candidates:     candidates,
		TotalResults:   searchResp.Total,
		Source:         catalog.SourceURS,
		SearchDuration: time.Since(startTime),
	}, nil
}

// SourceName returns the source identifier.
func (c *Client) SourceName() string {
	return catalog.SourceURS
}

// IsEnabled reports whether the source is configured for use.
// An enabled source without an API key is still disabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}
