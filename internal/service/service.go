package service

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// StopSignal selects the cooperative termination signal for a service.
// The choice is per descriptor because target executables differ in which
// signal they actually handle.
type StopSignal string

const (
	StopSignalTerm StopSignal = "term"
	StopSignalInt  StopSignal = "int"
)

// State is the supervisor-side lifecycle state of a managed service.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateHealthy    State = "healthy"
	StateUnhealthy  State = "unhealthy"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

// Descriptor is the static definition of a managed service. It is created at
// supervisor construction and never mutated afterwards.
type Descriptor struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"display_name"`
	ExecutablePath string     `json:"executable_path"`
	Args           []string   `json:"args"`
	HealthURL      string     `json:"health_url"`
	StopSignal     StopSignal `json:"stop_signal"`
}

// Validate checks the fields required to manage the service.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("service descriptor missing id")
	}
	if d.ExecutablePath == "" {
		return fmt.Errorf("service %s: missing executable path", d.ID)
	}
	if _, err := d.Port(); err != nil {
		return fmt.Errorf("service %s: %w", d.ID, err)
	}
	return nil
}

// Label returns the human label, falling back to the id.
func (d Descriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// Port extracts the TCP port from the health URL. Scheme defaults apply when
// the URL carries no explicit port.
func (d Descriptor) Port() (int, error) {
	u, err := url.Parse(d.HealthURL)
	if err != nil {
		return 0, fmt.Errorf("invalid health url %q: %w", d.HealthURL, err)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid port in health url %q: %w", d.HealthURL, err)
		}
		return n, nil
	}
	switch u.Scheme {
	case "http":
		return 80, nil
	case "https":
		return 443, nil
	}
	return 0, fmt.Errorf("health url %q has no port", d.HealthURL)
}

// Status is an externally consumable snapshot of one managed service.
type Status struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	State            State     `json:"state"`
	Healthy          bool      `json:"healthy"`
	PID              int       `json:"pid,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	LastTransitionAt time.Time `json:"last_transition_at,omitempty"`
}
