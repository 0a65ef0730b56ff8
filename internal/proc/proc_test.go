package proc

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sidekick-proj/sidekick/internal/logger"
	"github.com/sidekick-proj/sidekick/internal/service"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func shDescriptor(id, script string) service.Descriptor {
	return service.Descriptor{
		ID:             id,
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", script},
		HealthURL:      "http://127.0.0.1:1/health",
	}
}

func waitExit(t *testing.T, p *Process, d time.Duration) {
	t.Helper()
	wd := p.WaitDone()
	if wd == nil {
		t.Fatal("no run in flight")
	}
	select {
	case <-wd:
	case <-time.After(d):
		t.Fatal("process did not exit in time")
	}
}

func TestStartMissingExecutable(t *testing.T) {
	d := service.Descriptor{
		ID:             "ghost",
		ExecutablePath: filepath.Join(t.TempDir(), "does-not-exist"),
		HealthURL:      "http://127.0.0.1:1/health",
	}
	p := New(d, Options{})
	err := p.Start()
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("expected ErrExecutableNotFound, got %v", err)
	}
	if p.Handle() {
		t.Fatal("failed spawn left a command handle")
	}
}

func TestStartAliveKill(t *testing.T) {
	requireUnix(t)
	p := New(shDescriptor("sleeper", "sleep 30"), Options{})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Alive() {
		t.Fatal("process not alive after start")
	}
	snap := p.Snapshot()
	if !snap.Running || snap.PID <= 0 {
		t.Fatalf("bad snapshot after start: %+v", snap)
	}

	p.SetStopRequested(true)
	if err := p.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitExit(t, p, 5*time.Second)
	if p.Alive() {
		t.Fatal("process alive after kill was reaped")
	}
	snap = p.Snapshot()
	if snap.Running {
		t.Fatal("snapshot still running after exit")
	}
	if snap.StoppedAt.IsZero() {
		t.Fatal("stop time not recorded")
	}
}

func TestGracefulSignal(t *testing.T) {
	requireUnix(t)
	p := New(shDescriptor("polite", "sleep 30"), Options{})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.SetStopRequested(true)
	if err := p.Signal(); err != nil {
		t.Fatalf("signal: %v", err)
	}
	waitExit(t, p, 5*time.Second)
	if p.Alive() {
		t.Fatal("process survived its graceful signal")
	}
}

func TestOutputCapturedToFiles(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p := New(shDescriptor("chatty", "echo out-line; echo err-line 1>&2"), Options{
		Log: logger.Config{Dir: dir},
	})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 5*time.Second)

	out, err := os.ReadFile(filepath.Join(dir, "chatty.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if !strings.Contains(string(out), "out-line") {
		t.Fatalf("stdout log missing line: %q", out)
	}
	errOut, err := os.ReadFile(filepath.Join(dir, "chatty.stderr.log"))
	if err != nil {
		t.Fatalf("read stderr log: %v", err)
	}
	if !strings.Contains(string(errOut), "err-line") {
		t.Fatalf("stderr log missing line: %q", errOut)
	}
}

func TestExitObserverReportsCrash(t *testing.T) {
	requireUnix(t)
	var (
		mu      sync.Mutex
		exitErr error
		called  bool
	)
	p := New(shDescriptor("crasher", "exit 3"), Options{
		OnExit: func(err error) {
			mu.Lock()
			exitErr = err
			called = true
			mu.Unlock()
		},
	})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Fatal("exit observer not invoked")
	}
	var ee *exec.ExitError
	if !errors.As(exitErr, &ee) {
		t.Fatalf("expected *exec.ExitError, got %v", exitErr)
	}
	if ee.ExitCode() != 3 {
		t.Fatalf("exit code = %d, want 3", ee.ExitCode())
	}
}

func TestCleanExitReportsNil(t *testing.T) {
	requireUnix(t)
	var (
		mu      sync.Mutex
		exitErr = errors.New("sentinel")
	)
	p := New(shDescriptor("quiet", "true"), Options{
		OnExit: func(err error) {
			mu.Lock()
			exitErr = err
			mu.Unlock()
		},
	})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if exitErr != nil {
		t.Fatalf("clean exit reported error: %v", exitErr)
	}
}

func TestClearDropsHandle(t *testing.T) {
	requireUnix(t)
	p := New(shDescriptor("brief", "true"), Options{})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, p, 5*time.Second)
	if !p.Handle() {
		t.Fatal("handle dropped before Clear")
	}
	p.Clear()
	if p.Handle() {
		t.Fatal("handle present after Clear")
	}
	if p.WaitDone() != nil {
		t.Fatal("wait channel present after Clear")
	}
}
