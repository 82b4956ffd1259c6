// Package linkmetrics provides a client for a link-metrics API that reports
// domain authority per target.
package linkmetrics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Client defines the link-metrics operations.
type Client interface {
	// URLMetrics returns authority metrics for domain. Fields the API does
	// not report are nil.
	URLMetrics(ctx context.Context, domain string) (*Metrics, error)
}

// Metrics holds the values used for scoring.
type Metrics struct {
	DomainAuthority *float64
}

type metricsRequest struct {
	Targets []string `json:"targets"`
}

type metricsResponse struct {
	Results []struct {
		Page            string   `json:"page"`
		DomainAuthority *float64 `json:"domain_authority"`
	} `json:"results"`
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
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a link-metrics client authenticated with token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://lsapi.seomoz.com/v2",
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) URLMetrics(ctx context.Context, domain string) (*Metrics, error) {
	if c.token == "" {
		return nil, eris.New("linkmetrics: token not configured")
	}

	payload, err := json.Marshal(metricsRequest{Targets: []string{domain}})
	if err != nil {
		return nil, eris.Wrap(err, "linkmetrics: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/url_metrics", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "linkmetrics: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("x-moz-token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "linkmetrics: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "linkmetrics: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("linkmetrics", resp.StatusCode, string(body))
	}

	var result metricsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "linkmetrics: unmarshal response")
	}
	if len(result.Results) == 0 {
		return &Metrics{}, nil
	}
	r := result.Results[0]
	return &Metrics{DomainAuthority: r.DomainAuthority}, nil
}
