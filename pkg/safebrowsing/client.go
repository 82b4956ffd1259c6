// Package safebrowsing provides a client for the Safe Browsing threat
// lookup API.
package safebrowsing

import (
	"bytes"
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

// Client checks URLs against threat lists.
type Client interface {
	Lookup(ctx context.Context, targetURL string) (*Verdict, error)
}

// Verdict is the lookup result. Unsafe is false when no list matched.
type Verdict struct {
	Unsafe      bool
	ThreatTypes []string
}

var defaultThreatTypes = []string{
	"MALWARE",
	"SOCIAL_ENGINEERING",
	"UNWANTED_SOFTWARE",
	"POTENTIALLY_HARMFUL_APPLICATION",
}

type findRequest struct {
	Client     clientInfo `json:"client"`
	ThreatInfo threatInfo `json:"threatInfo"`
}

type clientInfo struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type threatInfo struct {
	ThreatTypes      []string      `json:"threatTypes"`
	PlatformTypes    []string      `json:"platformTypes"`
	ThreatEntryTypes []string      `json:"threatEntryTypes"`
	ThreatEntries    []threatEntry `json:"threatEntries"`
}

type threatEntry struct {
	URL string `json:"url"`
}

type findResponse struct {
	Matches []struct {
		ThreatType string      `json:"threatType"`
		Threat     threatEntry `json:"threat"`
	} `json:"matches"`
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

// NewClient creates a Safe Browsing client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://safebrowsing.googleapis.com/v4",
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, targetURL string) (*Verdict, error) {
	if c.apiKey == "" {
		return nil, eris.New("safebrowsing: api key not configured")
	}

	payload, err := json.Marshal(findRequest{
		Client: clientInfo{ClientID: "outreach-cli", ClientVersion: "1.0"},
		ThreatInfo: threatInfo{
			ThreatTypes:      defaultThreatTypes,
			PlatformTypes:    []string{"ANY_PLATFORM"},
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries:    []threatEntry{{URL: targetURL}},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "safebrowsing: marshal request")
	}

	endpoint := c.baseURL + "/threatMatches:find?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "safebrowsing: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "safebrowsing: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "safebrowsing: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("safebrowsing", resp.StatusCode, string(body))
	}

	var result findResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "safebrowsing: unmarshal response")
	}

	v := &Verdict{}
	for _, m := range result.Matches {
		v.Unsafe = true
		v.ThreatTypes = append(v.ThreatTypes, m.ThreatType)
	}
	return v, nil
}
