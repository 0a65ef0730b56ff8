package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitorTicks(t *testing.T) {
	var sweeps atomic.Int32
	m := NewMonitor(10*time.Millisecond, func(ctx context.Context) { sweeps.Add(1) })
	m.Start(context.Background())
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sweeps.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("monitor swept only %d times", sweeps.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitorStopHalts(t *testing.T) {
	var sweeps atomic.Int32
	m := NewMonitor(10*time.Millisecond, func(ctx context.Context) { sweeps.Add(1) })
	m.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	m.Stop()
	if m.Running() {
		t.Fatal("monitor still running after Stop")
	}
	n := sweeps.Load()
	time.Sleep(50 * time.Millisecond)
	if sweeps.Load() != n {
		t.Fatal("sweeps continued after Stop")
	}
}

func TestMonitorStartIdempotent(t *testing.T) {
	m := NewMonitor(time.Hour, func(ctx context.Context) {})
	m.Start(context.Background())
	m.Start(context.Background())
	if !m.Running() {
		t.Fatal("monitor not running after Start")
	}
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Fatal("monitor running after Stop")
	}
}
