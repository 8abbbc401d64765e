// Package restapi is the one-shot HTTP side of the VERSSAI backend: the
// endpoints a client hits once to hydrate before (or alongside) the
// realtime socket. It deliberately stays request/response; everything
// stateful flows over the socket.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds each hydration request.
const DefaultTimeout = 15 * time.Second

// HealthStatus is the backend's /api/health response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DatasetStats summarizes the research dataset backing retrieval queries.
type DatasetStats struct {
	TotalCompanies int       `json:"total_companies"`
	TotalRounds    int       `json:"total_rounds"`
	TotalInvestors int       `json:"total_investors"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Client calls the backend's REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a REST client for the given base URL,
// e.g. "https://api.verssai.com".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Health checks backend liveness.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	if err := c.get(ctx, "/api/health", &out); err != nil {
		return HealthStatus{}, err
	}
	return out, nil
}

// DatasetStats fetches the current research dataset summary.
func (c *Client) DatasetStats(ctx context.Context) (DatasetStats, error) {
	var out DatasetStats
	if err := c.get(ctx, "/api/dataset/stats", &out); err != nil {
		return DatasetStats{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
