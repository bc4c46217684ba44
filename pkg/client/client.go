// Package client talks to a running gatecache gateway over its HTTP API.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pario-ai/gatecache/pkg/analytics"
	"github.com/pario-ai/gatecache/pkg/models"
)

const defaultTimeout = 10 * time.Second

// Metrics is the body of GET /gateway/metrics.
type Metrics struct {
	analytics.Summary
	Recent []models.RequestRecord `json:"recent"`
}

// Client is a gateway API client.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the gateway at baseURL. A bare listen address
// such as ":8080" is accepted.
func New(baseURL string) *Client {
	return &Client{
		base: normalize(baseURL),
		http: &http.Client{Timeout: defaultTimeout},
	}
}

func normalize(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}

// BaseURL returns the gateway address in use.
func (c *Client) BaseURL() string { return c.base }

// CacheStats returns GET /api/cache/stats.
func (c *Client) CacheStats(ctx context.Context) (models.CacheStats, error) {
	var out models.CacheStats
	err := c.do(ctx, http.MethodGet, "/api/cache/stats", &out)
	return out, err
}

// ClearCache calls POST /api/cache/clear.
func (c *Client) ClearCache(ctx context.Context) (models.CacheClearResult, error) {
	var out models.CacheClearResult
	err := c.do(ctx, http.MethodPost, "/api/cache/clear", &out)
	return out, err
}

// Metrics returns the analytics summary and up to limit recent records.
func (c *Client) Metrics(ctx context.Context, limit int) (Metrics, error) {
	path := "/gateway/metrics"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out Metrics
	err := c.do(ctx, http.MethodGet, path, &out)
	return out, err
}

// Summary returns the live analytics summary.
func (c *Client) Summary(ctx context.Context) (analytics.Summary, error) {
	m, err := c.Metrics(ctx, 0)
	return m.Summary, err
}

// ResetMetrics calls POST /gateway/metrics/reset.
func (c *Client) ResetMetrics(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/gateway/metrics/reset", nil)
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach gateway at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error struct {
				Message string `json:"message"`
				Kind    string `json:"kind"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &eb) == nil {
			apiErr.Message, apiErr.Kind = eb.Error.Message, eb.Error.Kind
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
