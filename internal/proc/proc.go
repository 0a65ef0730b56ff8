package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sidekick-proj/sidekick/internal/logger"
	"github.com/sidekick-proj/sidekick/internal/service"
)

// ErrExecutableNotFound marks a spawn that is fatal and non-retryable because
// the configured binary does not exist.
var ErrExecutableNotFound = errors.New("executable not found")

// Options configures a Process at construction.
type Options struct {
	Logger *slog.Logger
	Log    logger.Config
	// OnExit is invoked once per run after the process has been reaped.
	// err is nil for a clean exit.
	OnExit func(err error)
}

// Process owns the runtime state of one spawned service: the command handle,
// output forwarding, and the exit observer. All mutation goes through
// mutex-guarded methods; callers never touch the exec.Cmd directly.
type Process struct {
	desc service.Descriptor
	opts Options

	mu        sync.Mutex
	cmd       *exec.Cmd
	running   bool
	stopping  bool // stop requested; suppress crash logging
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	waitDone  chan struct{} // closed by the exit observer after reaping
	outW      io.WriteCloser
	errW      io.WriteCloser
}

// Snapshot is a copy of the observable process state.
type Snapshot struct {
	Running   bool
	PID       int
	StartedAt time.Time
	StoppedAt time.Time
	ExitErr   error
}

func New(desc service.Descriptor, opts Options) *Process {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Process{desc: desc, opts: opts}
}

// Start performs exactly one spawn attempt: it verifies the executable exists,
// launches it without a shell, wires line-tagged output capture, and installs
// an exit observer. It does not wait for health; that is the caller's job.
func (p *Process) Start() error {
	if _, err := os.Stat(p.desc.ExecutablePath); err != nil {
		return fmt.Errorf("%w: %s (%s)", ErrExecutableNotFound, p.desc.ExecutablePath, p.desc.ID)
	}

	// ok: path comes from the static registry, not user input
	// #nosec G204
	cmd := exec.Command(p.desc.ExecutablePath, p.desc.Args...)
	cmd.SysProcAttr = sysProcAttr()
	// Stdin left nil: the child reads from the null device per the contract.

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe for %s: %w", p.desc.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", p.desc.ID, err)
	}

	outW, errW, err := p.opts.Log.Writers(p.desc.ID)
	if err != nil {
		p.opts.Logger.Warn("service log files unavailable", "service", p.desc.ID, "error", err)
	}

	if err := cmd.Start(); err != nil {
		closeQuietly(outW, errW)
		return fmt.Errorf("spawn %s: %w", p.desc.ID, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.running = true
	p.stopping = false
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.stoppedAt = time.Time{}
	p.exitErr = nil
	p.waitDone = make(chan struct{})
	p.outW = outW
	p.errW = errW
	p.mu.Unlock()

	var fw sync.WaitGroup
	fw.Add(2)
	go p.forward("stdout", stdout, outW, &fw)
	go p.forward("stderr", stderr, errW, &fw)
	go p.observeExit(cmd, &fw)

	p.opts.Logger.Info("service spawned", "service", p.desc.ID, "pid", cmd.Process.Pid)
	return nil
}

// forward copies one output stream line by line, tagging each line with the
// service id so interleaved service logs stay attributable.
func (p *Process) forward(stream string, r io.Reader, w io.Writer, fw *sync.WaitGroup) {
	defer fw.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		p.opts.Logger.Info(line, "service", p.desc.ID, "stream", stream)
		if w != nil {
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

// observeExit reaps the process once the output streams are drained, records
// the outcome, and reports crashes. It never restarts anything itself.
func (p *Process) observeExit(cmd *exec.Cmd, fw *sync.WaitGroup) {
	fw.Wait()
	err := cmd.Wait()

	p.mu.Lock()
	p.running = false
	p.stoppedAt = time.Now()
	p.exitErr = err
	stopping := p.stopping
	wd := p.waitDone
	outW, errW := p.outW, p.errW
	p.outW, p.errW = nil, nil
	p.mu.Unlock()

	closeQuietly(outW, errW)

	if err != nil && !stopping {
		code := -1
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		}
		p.opts.Logger.Error("service crashed", "service", p.desc.ID, "exit_code", code, "error", err)
	} else {
		p.opts.Logger.Info("service exited", "service", p.desc.ID)
	}

	if wd != nil {
		close(wd)
	}
	if p.opts.OnExit != nil {
		p.opts.OnExit(err)
	}
}

// Alive probes whether the spawned process still exists. This is a liveness
// poll, not a health probe.
func (p *Process) Alive() bool {
	p.mu.Lock()
	cmd := p.cmd
	running := p.running
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	if !running {
		return false
	}
	return processAlive(cmd.Process.Pid)
}

// Signal sends the descriptor-selected graceful signal to the process group.
func (p *Process) Signal() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process.Pid, gracefulSignal(p.desc.StopSignal))
}

// Kill forcibly terminates the process group.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return killGroup(cmd.Process.Pid)
}

// WaitDone returns the channel closed once the exit observer has reaped the
// current run, or nil when no run is in flight.
func (p *Process) WaitDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

// SetStopRequested marks the current run as intentionally stopping so an exit
// is not logged as a crash.
func (p *Process) SetStopRequested(v bool) {
	p.mu.Lock()
	p.stopping = v
	p.mu.Unlock()
}

func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Clear drops the command handle after termination has been confirmed.
func (p *Process) Clear() {
	p.mu.Lock()
	p.cmd = nil
	p.running = false
	p.waitDone = nil
	p.mu.Unlock()
}

// Handle reports whether a command handle is present (spawn attempted and
// termination not yet confirmed).
func (p *Process) Handle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func (p *Process) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Running:   p.running,
		PID:       p.pid,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
		ExitErr:   p.exitErr,
	}
}

func closeQuietly(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}
