package health

import (
	"context"
	"sync"
	"time"
)

// Monitor runs a callback on a fixed tick until stopped. It is the
// steady-state half of health checking: the supervisor owns the per-service
// flags and hands Monitor the probe sweep to run.
type Monitor struct {
	interval time.Duration
	sweep    func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(interval time.Duration, sweep func(ctx context.Context)) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{interval: interval, sweep: sweep}
}

// Start launches the periodic loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done
	go func() {
		defer close(done)
		t := time.NewTicker(m.interval)
		defer t.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-t.C:
				m.sweep(cctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to wind down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether the periodic loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}
