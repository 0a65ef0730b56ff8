package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sidekick-proj/sidekick/internal/netcheck"
	"github.com/sidekick-proj/sidekick/internal/service"
	"github.com/sidekick-proj/sidekick/internal/supervisor"
)

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

func newTestRouter(t *testing.T) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	d := service.Descriptor{
		ID:             "orakle",
		ExecutablePath: filepath.Join(t.TempDir(), "missing-binary"),
		HealthURL:      fmt.Sprintf("http://127.0.0.1:%d/health", freePort(t)),
	}
	sup, err := supervisor.New([]service.Descriptor{d}, supervisor.Settings{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(NewRouter(sup).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = sup.Close()
	})
	return srv, sup
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestRouter(t)
	var body struct {
		Services   []service.Status `json:"services"`
		AllHealthy bool             `json:"all_healthy"`
	}
	if code := getJSON(t, srv.URL+"/status", &body); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if body.AllHealthy {
		t.Fatal("all_healthy true with nothing running")
	}
	if len(body.Services) != 1 || body.Services[0].ID != "orakle" {
		t.Fatalf("services = %+v", body.Services)
	}
}

func TestHealthzUnhealthy(t *testing.T) {
	srv, _ := newTestRouter(t)
	if code := getJSON(t, srv.URL+"/healthz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("healthz code = %d", code)
	}
}

func TestPortsEndpoint(t *testing.T) {
	srv, _ := newTestRouter(t)
	var res netcheck.Result
	if code := getJSON(t, srv.URL+"/ports", &res); code != http.StatusOK {
		t.Fatalf("ports code = %d", code)
	}
	if !res.Available {
		t.Fatalf("expected free port: %+v", res)
	}
}

func TestEventsEndpointWithoutStore(t *testing.T) {
	srv, _ := newTestRouter(t)
	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	if code := getJSON(t, srv.URL+"/events?limit=5", &body); code != http.StatusOK {
		t.Fatalf("events code = %d", code)
	}
	if len(body.Events) != 0 {
		t.Fatalf("events without a store = %v", body.Events)
	}
}

func TestStopEndpointNoop(t *testing.T) {
	srv, _ := newTestRouter(t)
	resp, err := http.Post(srv.URL+"/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /stop: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop code = %d", resp.StatusCode)
	}
}

func TestStartEndpointSurfacesError(t *testing.T) {
	srv, _ := newTestRouter(t)
	resp, err := http.Post(srv.URL+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /start: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("start with missing binary: code = %d", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(body.Error, "executable") {
		t.Fatalf("error body = %q", body.Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestRouter(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("metrics content type = %q", ct)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestRouter(t)
	if code := getJSON(t, fmt.Sprintf("%s/nope", srv.URL), nil); code != http.StatusNotFound {
		t.Fatalf("unknown route code = %d", code)
	}
}
