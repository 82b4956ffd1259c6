// Package pagerank provides a client for the Open PageRank domain rank API.
package pagerank

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Client looks up the rank of a domain.
type Client interface {
	// Rank returns the 0-10 decimal rank for domain, or nil when the API has
	// no data for it.
	Rank(ctx context.Context, domain string) (*float64, error)
}

// Response is the API envelope.
type Response struct {
	StatusCode int          `json:"status_code"`
	Response   []DomainRank `json:"response"`
}

// DomainRank is the per-domain result.
type DomainRank struct {
	StatusCode      int     `json:"status_code"`
	Error           string  `json:"error"`
	PageRankInteger int     `json:"page_rank_integer"`
	PageRankDecimal float64 `json:"page_rank_decimal"`
	Domain          string  `json:"domain"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a rank client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://openpagerank.com/api/v1.0",
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Rank(ctx context.Context, domain string) (*float64, error) {
	if c.apiKey == "" {
		return nil, eris.New("pagerank: api key not configured")
	}

	q := url.Values{}
	q.Add("domains[]", domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/getPageRank?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "pagerank: create request")
	}
	req.Header.Set("API-OPR", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "pagerank: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "pagerank: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("pagerank", resp.StatusCode, string(body))
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pagerank: unmarshal response")
	}
	for _, r := range result.Response {
		if !strings.EqualFold(r.Domain, domain) {
			continue
		}
		// Unknown domains come back as 404 inside a 200 envelope.
		if r.StatusCode != http.StatusOK {
			return nil, nil
		}
		rank := r.PageRankDecimal
		return &rank, nil
	}
	return nil, nil
}
