// Package supervisor composes port prechecking, process launching, health
// monitoring, and coordinated shutdown into the lifecycle operations the
// desktop shell drives its backend services with.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sidekick-proj/sidekick/internal/health"
	"github.com/sidekick-proj/sidekick/internal/logger"
	"github.com/sidekick-proj/sidekick/internal/metrics"
	"github.com/sidekick-proj/sidekick/internal/netcheck"
	"github.com/sidekick-proj/sidekick/internal/proc"
	"github.com/sidekick-proj/sidekick/internal/progress"
	"github.com/sidekick-proj/sidekick/internal/resources"
	"github.com/sidekick-proj/sidekick/internal/service"
	"github.com/sidekick-proj/sidekick/internal/store"
)

var (
	// ErrAlreadyRunning guards the one-supervisor-per-process contract.
	ErrAlreadyRunning = errors.New("a supervisor is already live in this process")
	// ErrPortConflict aborts startup before any spawn when a required port
	// is taken.
	ErrPortConflict = errors.New("required port unavailable")
)

// Settings bounds every long operation of the supervisor. Zero fields take
// the defaults below; tests shrink them to keep runs fast.
type Settings struct {
	StartupTimeout time.Duration // per-service bound on time-to-healthy
	StartupPoll    time.Duration // delay between startup health probes
	HealthInterval time.Duration // steady-state probe tick
	LivenessPoll   time.Duration // delay between shutdown existence checks
	StopCeiling    time.Duration // graceful-exit wait before escalation
	Log            logger.Config // rotating files for captured service output
}

func DefaultSettings() Settings {
	return Settings{
		StartupTimeout: 60 * time.Second,
		StartupPoll:    time.Second,
		HealthInterval: 5 * time.Second,
		LivenessPoll:   time.Second,
		StopCeiling:    10 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.StartupTimeout <= 0 {
		s.StartupTimeout = d.StartupTimeout
	}
	if s.StartupPoll <= 0 {
		s.StartupPoll = d.StartupPoll
	}
	if s.HealthInterval <= 0 {
		s.HealthInterval = d.HealthInterval
	}
	if s.LivenessPoll <= 0 {
		s.LivenessPoll = d.LivenessPoll
	}
	if s.StopCeiling <= 0 {
		s.StopCeiling = d.StopCeiling
	}
	return s
}

// runtime is the mutable per-service state, owned exclusively by the
// supervisor. healthy only ever turns true after a successful probe.
type runtime struct {
	desc service.Descriptor
	proc *proc.Process

	mu             sync.Mutex
	state          service.State
	healthy        bool
	lastTransition time.Time
}

func (rt *runtime) setState(st service.State) {
	rt.mu.Lock()
	rt.state = st
	rt.mu.Unlock()
}

// setHealthy flips the health flag and reports whether it changed.
func (rt *runtime) setHealthy(v bool) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.healthy == v {
		return false
	}
	rt.healthy = v
	rt.lastTransition = time.Now()
	if v {
		rt.state = service.StateHealthy
	} else if rt.state == service.StateHealthy {
		rt.state = service.StateUnhealthy
	}
	return true
}

func (rt *runtime) isHealthy() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.healthy
}

func (rt *runtime) status() service.Status {
	snap := rt.proc.Snapshot()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st := service.Status{
		ID:               rt.desc.ID,
		DisplayName:      rt.desc.Label(),
		State:            rt.state,
		Healthy:          rt.healthy,
		LastTransitionAt: rt.lastTransition,
	}
	if snap.Running {
		st.PID = snap.PID
		st.StartedAt = snap.StartedAt
	}
	return st
}

// live enforces the process-wide singleton: the supervisor is constructed
// once and torn down only at application exit.
var live atomic.Bool

// Supervisor owns the fixed service registry and serializes lifecycle
// operations over it.
type Supervisor struct {
	settings Settings
	log      *slog.Logger
	checker  *health.Checker
	monitor  *health.Monitor
	st       store.Store

	opMu     sync.Mutex // serializes StartServices/StopServices/RestartServices
	sinkMu   sync.Mutex
	sink     progress.Sink
	services []*runtime
	byID     map[string]*runtime
}

// Option tweaks construction without widening the New signature.
type Option func(*Supervisor)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithStore attaches an event journal. The supervisor takes ownership and
// closes it on Close.
func WithStore(st store.Store) Option {
	return func(s *Supervisor) { s.st = st }
}

// New constructs the process-wide supervisor over a fixed registry. A second
// live construction fails with ErrAlreadyRunning until Close is called.
func New(descs []service.Descriptor, settings Settings, opts ...Option) (*Supervisor, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("no service descriptors given")
	}
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate service id %q", d.ID)
		}
		seen[d.ID] = true
	}
	if !live.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	settings = settings.withDefaults()
	s := &Supervisor{
		settings: settings,
		log:      slog.Default(),
		checker:  health.NewChecker(settings.StartupPoll),
		sink:     progress.Discard,
		byID:     make(map[string]*runtime, len(descs)),
	}
	for _, o := range opts {
		o(s)
	}
	for _, d := range descs {
		rt := &runtime{desc: d, state: service.StateNotStarted}
		rt.proc = proc.New(d, proc.Options{
			Logger: s.log,
			Log:    settings.Log,
			OnExit: func(err error) { s.onServiceExit(rt, err) },
		})
		s.services = append(s.services, rt)
		s.byID[d.ID] = rt
	}
	s.monitor = health.NewMonitor(settings.HealthInterval, func(ctx context.Context) {
		s.CheckServicesHealth(ctx)
	})
	if s.st != nil {
		if err := s.st.EnsureSchema(context.Background()); err != nil {
			live.Store(false)
			return nil, err
		}
	}
	return s, nil
}

// Close tears the supervisor down at application exit. It does not stop
// running services; call StopServices first.
func (s *Supervisor) Close() error {
	s.monitor.Stop()
	var err error
	if s.st != nil {
		err = s.st.Close()
	}
	live.Store(false)
	return err
}

// SetProgressSink registers the callback sink for lifecycle checkpoints.
// A nil sink discards reports.
func (s *Supervisor) SetProgressSink(sink progress.Sink) {
	if sink == nil {
		sink = progress.Discard
	}
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()
}

func (s *Supervisor) report(message string, percent int) {
	s.sinkMu.Lock()
	sink := s.sink
	s.sinkMu.Unlock()
	sink.Report(message, percent)
}

// CheckPortsAvailability verifies every service's health port is free. It is
// also the first step of StartServices.
func (s *Supervisor) CheckPortsAvailability() netcheck.Result {
	descs := make([]service.Descriptor, 0, len(s.services))
	for _, rt := range s.services {
		descs = append(descs, rt.desc)
	}
	return netcheck.Check(descs)
}

// StartServices brings every registered service up: port precheck, parallel
// spawn, then a bounded wait for each to report healthy. It resolves once all
// services settled; the wall-clock cost is bounded by the slowest service,
// not the sum. On success the steady-state health monitor takes over.
func (s *Supervisor) StartServices(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.report("starting backend services", 0)

	if res := s.CheckPortsAvailability(); !res.Available {
		err := fmt.Errorf("%w: %s (port %d): %s", ErrPortConflict, res.ServiceName, res.Port, res.Reason)
		s.log.Error("port precheck failed", "service", res.ServiceName, "port", res.Port, "reason", res.Reason)
		return err
	}
	s.report("ports are clear", 5)

	// Verify every executable before the first spawn so a missing binary
	// aborts the whole batch with nothing launched.
	for _, rt := range s.services {
		if _, err := os.Stat(rt.desc.ExecutablePath); err != nil {
			return fmt.Errorf("%w: %s (%s)", proc.ErrExecutableNotFound, rt.desc.ExecutablePath, rt.desc.ID)
		}
	}

	n := len(s.services)
	for i, rt := range s.services {
		s.report(fmt.Sprintf("launching %s", rt.desc.Label()), 10+30*i/n)
		rt.setState(service.StateStarting)
		rt.setHealthy(false)
		metrics.SetHealthy(rt.desc.ID, false)
		if err := rt.proc.Start(); err != nil {
			rt.setState(service.StateNotStarted)
			return err
		}
		metrics.IncStart(rt.desc.ID)
		s.record(rt.desc.ID, store.EventSpawned, "")
	}
	s.report("all services launched", 40)
	s.report("waiting for services to become healthy", 50)

	var (
		wg       sync.WaitGroup
		healthyN atomic.Int32
		errMu    sync.Mutex
		firstErr error
	)
	for _, rt := range s.services {
		wg.Add(1)
		go func(rt *runtime) {
			defer wg.Done()
			began := time.Now()
			if err := s.checker.WaitHealthy(ctx, rt.desc, s.settings.StartupTimeout); err != nil {
				rt.setState(service.StateUnhealthy)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			s.applyProbe(rt, true)
			metrics.ObserveTimeToHealthy(rt.desc.ID, time.Since(began).Seconds())
			done := int(healthyN.Add(1))
			s.report(fmt.Sprintf("%s is healthy", rt.desc.Label()), 50+50*done/n)
		}(rt)
	}
	wg.Wait()

	if firstErr != nil {
		// Healthy siblings keep running; the caller decides whether to tear
		// them down with StopServices.
		return firstErr
	}

	s.monitor.Start(context.Background())
	s.report("all services ready", 100)
	return nil
}

// RestartServices performs a graceful stop followed by a fresh start.
func (s *Supervisor) RestartServices(ctx context.Context) error {
	if err := s.StopServices(ctx, StopOptions{}); err != nil {
		return err
	}
	return s.StartServices(ctx)
}

// CheckServicesHealth probes every service once, updates the health flags,
// and returns whether all are healthy. Transitions are logged; steady noise
// is not.
func (s *Supervisor) CheckServicesHealth(ctx context.Context) bool {
	all := true
	for _, rt := range s.services {
		ok := s.checker.Probe(ctx, rt.desc.HealthURL)
		s.applyProbe(rt, ok)
		if !ok {
			all = false
		}
	}
	return all
}

// IsAllHealthy is a pure read of the last observed flags. It never probes.
func (s *Supervisor) IsAllHealthy() bool {
	for _, rt := range s.services {
		if !rt.isHealthy() {
			return false
		}
	}
	return true
}

// Statuses snapshots every service for external observers.
func (s *Supervisor) Statuses() []service.Status {
	out := make([]service.Status, 0, len(s.services))
	for _, rt := range s.services {
		out = append(out, rt.status())
	}
	return out
}

// RecentEvents exposes the journal when a store is attached.
func (s *Supervisor) RecentEvents(ctx context.Context, limit int) ([]store.Event, error) {
	if s.st == nil {
		return nil, nil
	}
	return s.st.RecentEvents(ctx, limit)
}

// CheckResources asks a service's setup endpoint whether one-time resource
// initialization has already happened.
func (s *Supervisor) CheckResources(ctx context.Context, baseURL string) (resources.CheckResult, error) {
	return resources.NewClient(baseURL, nil).Check(ctx)
}

// InitializeResources runs the streamed setup flow, interpolating smooth
// progress between the sparse real updates.
func (s *Supervisor) InitializeResources(ctx context.Context, baseURL string) error {
	s.sinkMu.Lock()
	sink := s.sink
	s.sinkMu.Unlock()
	reporter := progress.NewStreamReporter(sink, progress.DefaultTickInterval, progress.DefaultVisualCeiling)
	return resources.NewClient(baseURL, reporter).Initialize(ctx)
}

// applyProbe folds one probe outcome into the runtime state, logging and
// recording only on transitions.
func (s *Supervisor) applyProbe(rt *runtime, healthy bool) {
	if !rt.setHealthy(healthy) {
		return
	}
	metrics.SetHealthy(rt.desc.ID, healthy)
	metrics.RecordHealthTransition(rt.desc.ID, healthy)
	if healthy {
		s.log.Info("service became healthy", "service", rt.desc.ID)
		s.record(rt.desc.ID, store.EventHealthy, "")
	} else {
		s.log.Warn("service became unhealthy", "service", rt.desc.ID)
		s.record(rt.desc.ID, store.EventUnhealthy, "")
	}
}

// onServiceExit is the launcher's exit observer hook. It only converts the
// exit into state and a journal entry; restart policy stays with the caller.
func (s *Supervisor) onServiceExit(rt *runtime, err error) {
	if rt.proc.StopRequested() {
		return
	}
	if rt.setHealthy(false) {
		metrics.SetHealthy(rt.desc.ID, false)
		metrics.RecordHealthTransition(rt.desc.ID, false)
	}
	if err != nil {
		metrics.IncCrash(rt.desc.ID)
		s.record(rt.desc.ID, store.EventCrashed, err.Error())
	}
}

func (s *Supervisor) record(svc string, typ store.EventType, detail string) {
	if s.st == nil {
		return
	}
	ev := store.Event{Service: svc, Type: typ, Detail: detail, OccurredAt: time.Now()}
	if err := s.st.RecordEvent(context.Background(), ev); err != nil {
		s.log.Warn("event journal write failed", "service", svc, "error", err)
	}
}
