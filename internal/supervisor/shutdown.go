package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sidekick-proj/sidekick/internal/metrics"
	"github.com/sidekick-proj/sidekick/internal/service"
	"github.com/sidekick-proj/sidekick/internal/store"
)

// StopOptions selects the termination policy for StopServices.
type StopOptions struct {
	// Force skips the graceful signal and kills immediately.
	Force bool
}

// StopServices terminates every running service. Termination failures degrade
// to a forced kill instead of surfacing; calling with nothing running is a
// no-op. After it returns, no service holds a live process handle.
func (s *Supervisor) StopServices(ctx context.Context, opts StopOptions) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	// Tear the periodic monitor down first so probes do not race shutdown.
	s.monitor.Stop()

	running := make([]*runtime, 0, len(s.services))
	for _, rt := range s.services {
		if rt.proc.Handle() {
			running = append(running, rt)
		} else {
			rt.setState(service.StateStopped)
		}
	}
	if len(running) == 0 {
		return nil
	}

	failed := s.stopBatch(ctx, running, opts.Force)
	if len(failed) > 0 && !opts.Force {
		// Retry only the processes whose termination step actually errored;
		// gracefully exited siblings are left alone.
		s.log.Warn("graceful shutdown incomplete, forcing remaining services", "count", len(failed))
		s.stopBatch(ctx, failed, true)
	}

	for _, rt := range running {
		rt.proc.Clear()
		rt.setState(service.StateStopped)
		if rt.setHealthy(false) {
			metrics.SetHealthy(rt.desc.ID, false)
		}
	}
	return nil
}

// stopBatch terminates the given runtimes concurrently and returns the ones
// whose termination step errored.
func (s *Supervisor) stopBatch(ctx context.Context, batch []*runtime, force bool) []*runtime {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []*runtime
	)
	for _, rt := range batch {
		wg.Add(1)
		go func(rt *runtime) {
			defer wg.Done()
			if err := s.stopOne(ctx, rt, force); err != nil {
				s.log.Warn("termination step failed", "service", rt.desc.ID, "error", err)
				mu.Lock()
				failed = append(failed, rt)
				mu.Unlock()
			}
		}(rt)
	}
	wg.Wait()
	return failed
}

// stopOne drives the escalating-signal policy for a single process: graceful
// signal, bounded liveness polling, then a hard kill at the ceiling.
func (s *Supervisor) stopOne(ctx context.Context, rt *runtime, force bool) error {
	p := rt.proc
	if !p.Alive() {
		return nil
	}
	rt.setState(service.StateStopping)
	p.SetStopRequested(true)

	if force {
		if err := p.Kill(); err != nil {
			return err
		}
		s.awaitGone(ctx, rt, 2*time.Second)
		s.confirmStopped(rt, "forced")
		return nil
	}

	if err := p.Signal(); err != nil {
		return err
	}
	if s.awaitGone(ctx, rt, s.settings.StopCeiling) {
		s.confirmStopped(rt, "graceful")
		return nil
	}

	s.log.Warn("service ignored graceful signal, escalating to kill",
		"service", rt.desc.ID, "waited", s.settings.StopCeiling)
	if err := p.Kill(); err != nil {
		return err
	}
	s.awaitGone(ctx, rt, 2*time.Second)
	s.confirmStopped(rt, "killed")
	return nil
}

// awaitGone waits for the process to disappear, bounded by d. It watches both
// the exit observer's channel and a periodic liveness poll (existence check,
// not a health probe).
func (s *Supervisor) awaitGone(ctx context.Context, rt *runtime, d time.Duration) bool {
	p := rt.proc
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(s.settings.LivenessPoll)
	defer tick.Stop()

	wd := p.WaitDone()
	for {
		select {
		case <-wd:
			return true
		case <-tick.C:
			if !p.Alive() {
				return true
			}
		case <-deadline.C:
			return !p.Alive()
		case <-ctx.Done():
			return !p.Alive()
		}
	}
}

func (s *Supervisor) confirmStopped(rt *runtime, how string) {
	metrics.IncStop(rt.desc.ID)
	s.record(rt.desc.ID, store.EventStopped, how)
	s.log.Info("service stopped", "service", rt.desc.ID, "mode", how)
}
