package netcheck

import (
	"fmt"
	"net"
	"testing"

	"github.com/sidekick-proj/sidekick/internal/service"
)

// freePort grabs an ephemeral port and releases it so the test can reason
// about a port that is known-free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestCheckAllFree(t *testing.T) {
	a := freePort(t)
	b := freePort(t)
	res := Check([]service.Descriptor{
		{ID: "a", HealthURL: fmt.Sprintf("http://127.0.0.1:%d/health", a)},
		{ID: "b", HealthURL: fmt.Sprintf("http://127.0.0.1:%d/health", b)},
	})
	if !res.Available {
		t.Fatalf("expected available, got %+v", res)
	}
	// The transient listeners must be gone.
	for _, p := range []int{a, b} {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			t.Fatalf("port %d left bound after check: %v", p, err)
		}
		_ = ln.Close()
	}
}

func TestCheckConflictNamesService(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	res := Check([]service.Descriptor{
		{ID: "a", DisplayName: "Service A", HealthURL: fmt.Sprintf("http://127.0.0.1:%d/health", port)},
	})
	if res.Available {
		t.Fatal("expected conflict")
	}
	if res.Port != port || res.ServiceName != "a" {
		t.Fatalf("conflict misattributed: %+v", res)
	}
	if res.Reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestCheckBadHealthURL(t *testing.T) {
	res := Check([]service.Descriptor{{ID: "a", HealthURL: "not a url"}})
	if res.Available {
		t.Fatal("expected unavailable for unparsable health url")
	}
	if res.ServiceName != "a" {
		t.Fatalf("wrong service named: %+v", res)
	}
}
