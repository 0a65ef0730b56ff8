package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sidekick-proj/sidekick/internal/service"
)

func TestProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := NewChecker(10 * time.Millisecond)
	ctx := context.Background()
	if !c.Probe(ctx, srv.URL) {
		t.Fatal("200 reported unhealthy")
	}
	status.Store(http.StatusInternalServerError)
	if c.Probe(ctx, srv.URL) {
		t.Fatal("500 reported healthy")
	}
	srv.Close()
	if c.Probe(ctx, srv.URL) {
		t.Fatal("connection error reported healthy")
	}
}

func TestWaitHealthySucceedsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChecker(20 * time.Millisecond)
	d := service.Descriptor{ID: "orakle", HealthURL: srv.URL}
	if err := c.WaitHealthy(context.Background(), d, 3*time.Second); err != nil {
		t.Fatalf("WaitHealthy: %v", err)
	}
	if n := calls.Load(); n < 3 {
		t.Fatalf("expected at least 3 probes, saw %d", n)
	}
}

func TestWaitHealthyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewChecker(20 * time.Millisecond)
	d := service.Descriptor{ID: "orakle", HealthURL: srv.URL}
	err := c.WaitHealthy(context.Background(), d, 150*time.Millisecond)
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected ErrStartupTimeout, got %v", err)
	}
}

func TestWaitHealthyContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	c := NewChecker(20 * time.Millisecond)
	d := service.Descriptor{ID: "orakle", HealthURL: srv.URL}
	err := c.WaitHealthy(ctx, d, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
