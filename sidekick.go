// Package sidekick supervises the local backend services a desktop
// AI-companion shell depends on: it launches them, waits for their health
// endpoints, keeps watching them, and tears them down on exit.
package sidekick

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/sidekick-proj/sidekick/internal/config"
	"github.com/sidekick-proj/sidekick/internal/metrics"
	"github.com/sidekick-proj/sidekick/internal/netcheck"
	"github.com/sidekick-proj/sidekick/internal/progress"
	"github.com/sidekick-proj/sidekick/internal/resources"
	iapi "github.com/sidekick-proj/sidekick/internal/server"
	"github.com/sidekick-proj/sidekick/internal/service"
	"github.com/sidekick-proj/sidekick/internal/store"
	"github.com/sidekick-proj/sidekick/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Descriptor = service.Descriptor

type ServiceStatus = service.Status

type Settings = supervisor.Settings

type StopOptions = supervisor.StopOptions

type ProgressSink = progress.Sink

type ProgressFunc = progress.Func

type PortsResult = netcheck.Result

type ResourceCheck = resources.CheckResult

type Option = supervisor.Option

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrPortConflict   = supervisor.ErrPortConflict
)

// Supervisor is a thin facade over internal/supervisor.Supervisor providing
// a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(descs []Descriptor, settings Settings, opts ...Option) (*Supervisor, error) {
	inner, err := supervisor.New(descs, settings, opts...)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func DefaultSettings() Settings { return supervisor.DefaultSettings() }

func WithStore(st store.Store) Option { return supervisor.WithStore(st) }

func (s *Supervisor) StartServices(ctx context.Context) error { return s.inner.StartServices(ctx) }
func (s *Supervisor) StopServices(ctx context.Context, opts StopOptions) error {
	return s.inner.StopServices(ctx, opts)
}
func (s *Supervisor) RestartServices(ctx context.Context) error { return s.inner.RestartServices(ctx) }
func (s *Supervisor) CheckServicesHealth(ctx context.Context) bool {
	return s.inner.CheckServicesHealth(ctx)
}
func (s *Supervisor) IsAllHealthy() bool                 { return s.inner.IsAllHealthy() }
func (s *Supervisor) Statuses() []ServiceStatus          { return s.inner.Statuses() }
func (s *Supervisor) CheckPortsAvailability() PortsResult {
	return s.inner.CheckPortsAvailability()
}
func (s *Supervisor) SetProgressSink(sink ProgressSink) { s.inner.SetProgressSink(sink) }
func (s *Supervisor) CheckResources(ctx context.Context, baseURL string) (ResourceCheck, error) {
	return s.inner.CheckResources(ctx, baseURL)
}
func (s *Supervisor) InitializeResources(ctx context.Context, baseURL string) error {
	return s.inner.InitializeResources(ctx, baseURL)
}
func (s *Supervisor) Close() error { return s.inner.Close() }

// LoadConfig parses the TOML registry file.
func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// NewSQLiteStore opens the embedded event journal.
func NewSQLiteStore(path string) (store.Store, error) { return store.NewSQLiteStore(path) }

// NewHTTPServer starts the localhost control API for the given supervisor.
func NewHTTPServer(addr string, s *Supervisor) *http.Server {
	return iapi.NewServer(addr, s.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
