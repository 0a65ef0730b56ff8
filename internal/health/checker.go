// Package health probes managed services over their HTTP health endpoints:
// a bounded startup wait and a steady-state periodic monitor.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sidekick-proj/sidekick/internal/service"
)

// ErrStartupTimeout is returned when a service never reports healthy within
// the startup bound.
var ErrStartupTimeout = errors.New("service did not become healthy in time")

const (
	DefaultPollInterval = time.Second
	DefaultProbeTimeout = 2 * time.Second
)

// Checker issues HTTP health probes. The zero value is not usable; use
// NewChecker.
type Checker struct {
	client *http.Client
	poll   time.Duration
}

func NewChecker(poll time.Duration) *Checker {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Checker{
		client: &http.Client{Timeout: DefaultProbeTimeout},
		poll:   poll,
	}
}

// Probe performs a single GET against the health URL. Any 2xx is healthy;
// other statuses and connection errors are unhealthy.
func (c *Checker) Probe(ctx context.Context, healthURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitHealthy polls the descriptor's health endpoint until the first success
// or until timeout elapses. Connection errors are expected early on (the
// service may not be listening yet) and are ignored.
func (c *Checker) WaitHealthy(ctx context.Context, d service.Descriptor, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if c.Probe(ctx, d.HealthURL) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrStartupTimeout, d.ID, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.poll):
		}
	}
}
