// Package resources drives the one-time backend resource initialization flow
// exposed by a managed service's setup endpoints.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sidekick-proj/sidekick/internal/progress"
)

// CheckResult mirrors the GET /setup/check response.
type CheckResult struct {
	Initialized bool   `json:"initialized"`
	Error       string `json:"error,omitempty"`
}

// Client talks to one service's setup endpoints. The initialize stream has no
// hard ceiling by contract, so the HTTP client carries no overall timeout;
// cancellation comes from the caller's context.
type Client struct {
	base     string
	http     *http.Client
	reporter *progress.StreamReporter
}

func NewClient(base string, reporter *progress.StreamReporter) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		http:     &http.Client{},
		reporter: reporter,
	}
}

// Check asks whether resources are already initialized.
func (c *Client) Check(ctx context.Context) (CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/setup/check", nil)
	if err != nil {
		return CheckResult{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.http.Do(req.WithContext(cctx))
	if err != nil {
		return CheckResult{}, fmt.Errorf("setup check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{}, fmt.Errorf("setup check: unexpected status %d", resp.StatusCode)
	}
	var out CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CheckResult{}, fmt.Errorf("setup check: decode: %w", err)
	}
	return out, nil
}

// Initialize opens the setup stream and feeds it through the stream reporter
// until a terminal update arrives. The returned error is non-nil for an
// "error" terminal status or a transport failure.
func (c *Client) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/setup/initialize", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", progress.ErrStreamConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", progress.ErrStreamConnection, resp.StatusCode)
	}
	_, err = c.reporter.Consume(ctx, resp.Body)
	return err
}
