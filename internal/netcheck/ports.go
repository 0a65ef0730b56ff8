// Package netcheck verifies that the TCP ports managed services expect to
// bind are actually free before any process is spawned.
package netcheck

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/sidekick-proj/sidekick/internal/service"
)

// Result reports the outcome of a pre-spawn port scan. When Available is
// false, Port and ServiceName identify the first offending service.
type Result struct {
	Available   bool   `json:"available"`
	Port        int    `json:"port,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Check attempts a transient loopback bind on every descriptor's health port.
// The listener is always closed before returning; the point is to fail fast
// with an actionable message instead of letting a spawn silently lose the
// port race.
func Check(descs []service.Descriptor) Result {
	for _, d := range descs {
		port, err := d.Port()
		if err != nil {
			return Result{Port: 0, ServiceName: d.ID, Reason: err.Error()}
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			reason := err.Error()
			if errors.Is(err, syscall.EADDRINUSE) {
				reason = fmt.Sprintf("port %d required by %s is already in use", port, d.Label())
			}
			return Result{Port: port, ServiceName: d.ID, Reason: reason}
		}
		_ = ln.Close()
	}
	return Result{Available: true}
}
