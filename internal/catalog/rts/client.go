// Package rts provides a catalog client for the RTS pricing system API.
// RTS serves as the fallback source: the retriever only queries it when the
// primary ÚRS catalog returns zero candidates for a query.
package rts

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
	// DefaultBaseURL is the default RTS catalog API base URL.
	DefaultBaseURL = "https://data.rts.cz"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per query.
	DefaultMaxResults = 20

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 << 20
)

// Config holds configuration for the RTS client.
type Config struct {
	// BaseURL is the RTS API base URL. Defaults to the production API.
	BaseURL string

	// APIKey authenticates requests via a Bearer token.
	APIKey string

	// Timeout is the request timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to 3.
	RateLimit float64

	// BurstSize is the maximum burst of requests. Defaults to 3.
	BurstSize int

	// MaxResults is the maximum results per query. Defaults to 20.
	MaxResults int

	// Enabled indicates whether this source is enabled for searches.
	Enabled bool
}

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

// queryResponse is the RTS API search response. RTS wraps results in a data
// envelope and names fields differently from ÚRS.
type queryResponse struct {
	Data struct {
		Count int         `json:"count"`
		Rows  []queryItem `json:"rows"`
	} `json:"data"`
}

// queryItem is one catalog entry in an RTS search response.
type queryItem struct {
	ItemCode  string   `json:"item_code"`
	ItemName  string   `json:"item_name"`
	UnitLabel string   `json:"unit_label"`
	UnitPrice *float64 `json:"unit_price,omitempty"`
	LongText  string   `json:"long_text,omitempty"`
}

// Client implements catalog.CatalogSource for the RTS pricing system.
type Client struct {
	config     Config
	httpClient *catalog.HTTPClient
}

var _ catalog.CatalogSource = (*Client)(nil)

// New creates a new RTS client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := catalog.NewHTTPClient(catalog.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		APIKey:       "Bearer " + cfg.APIKey,
		APIKeyHeader: "Authorization",
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates an RTS client with a custom HTTP client.
// Useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *catalog.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries the RTS catalog for entries matching the query.
// Zero matches is a valid result with an empty candidate list.
func (c *Client) Search(ctx context.Context, params catalog.SearchParams) (*catalog.SearchResult, error) {
	startTime := time.Now()

	maxResults := params.MaxResults
	if maxResults <= 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}

	q := url.Values{}
	q.Set("query", params.Query)
	q.Set("page_size", strconv.Itoa(maxResults))
	searchURL := c.config.BaseURL + "/api/v2/price-items?" + q.Encode()

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
		return nil, domain.NewExternalAPIError(catalog.SourceRTS, resp.StatusCode, string(body), nil)
	}

	var queryResp queryResponse
	if err := json.Unmarshal(body, &queryResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(queryResp.Data.Rows))
	for _, item := range queryResp.Data.Rows {
		if item.ItemCode == "" {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Code:    item.ItemCode,
			Name:    item.ItemName,
			Unit:    item.UnitLabel,
			Price:   item.UnitPrice,
			Snippet: item.LongText,
			Source:  catalog.SourceRTS,
		})
	}

	return &catalog.SearchResult{
		Candidates:     candidates,
		TotalResults:   queryResp.Data.Count,
		Source:         catalog.SourceRTS,
		SearchDuration: time.Since(startTime),
	}, nil
}

// SourceName returns the source identifier.
func (c *Client) SourceName() string {
	return catalog.SourceRTS
}

// IsEnabled reports whether the source is configured for use.
// An enabled source without an API key is still disabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}
