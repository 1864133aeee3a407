package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/spinsense/internal/httputil"
)

// Client talks to a running spind over its HTTP API.
type Client struct {
	http httputil.HTTPClient
	base string
}

// NewClient returns a client for the server at base, e.g.
// "http://localhost:8080".
func NewClient(c httputil.HTTPClient, base string) *Client {
	return &Client{http: c, base: strings.TrimRight(base, "/")}
}

// Spin fetches the current detector status.
func (c *Client) Spin(ctx context.Context) (SpinStatus, error) {
	return c.do(ctx, http.MethodGet, "/api/spin")
}

// Start asks the server to start the detector.
func (c *Client) Start(ctx context.Context) (SpinStatus, error) {
	return c.do(ctx, http.MethodPost, "/api/spin/start")
}

// Stop asks the server to stop the detector.
func (c *Client) Stop(ctx context.Context) (SpinStatus, error) {
	return c.do(ctx, http.MethodPost, "/api/spin/stop")
}

func (c *Client) do(ctx context.Context, method, path string) (SpinStatus, error) {
	var status SpinStatus
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return status, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return status, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return status, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return status, fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return status, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return status, fmt.Errorf("decode response: %w", err)
	}
	return status, nil
}
