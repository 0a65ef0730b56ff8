package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrStreamConnection wraps transport failures while consuming a progress
// stream.
var ErrStreamConnection = errors.New("progress stream connection error")

// Update is one record of a server-sent progress stream.
type Update struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

const (
	DefaultTickInterval  = 200 * time.Millisecond
	DefaultVisualCeiling = 98
)

// StreamReporter consumes sparse real progress updates and keeps a sink
// supplied with smooth interpolated values in between. While the last real
// status is "running", a local ticker nudges a synthetic percent toward a
// capped ceiling; any real update snaps the value back to the real one and
// restarts the interpolation. A terminal update stops the ticker.
type StreamReporter struct {
	sink    Sink
	tick    time.Duration
	ceiling int

	mu      sync.Mutex
	visual  int
	message string
	running bool
	stop    chan struct{}
}

func NewStreamReporter(sink Sink, tick time.Duration, ceiling int) *StreamReporter {
	if sink == nil {
		sink = Discard
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if ceiling <= 0 || ceiling > 100 {
		ceiling = DefaultVisualCeiling
	}
	return &StreamReporter{sink: sink, tick: tick, ceiling: ceiling}
}

// Consume reads newline- or "data:"-delimited JSON updates from r until a
// terminal status arrives. It returns the terminal update, or an error
// wrapping ErrStreamConnection when the stream ends without one.
func (sr *StreamReporter) Consume(ctx context.Context, r io.Reader) (Update, error) {
	defer sr.stopTicker()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return Update{}, err
		}
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "" {
			continue
		}
		var u Update
		if err := json.Unmarshal([]byte(line), &u); err != nil {
			// Tolerate non-JSON keepalive lines.
			continue
		}
		sr.apply(u)
		switch u.Status {
		case StatusComplete:
			return u, nil
		case StatusError:
			return u, fmt.Errorf("initialization failed: %s", u.Message)
		}
	}
	if err := sc.Err(); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrStreamConnection, err)
	}
	return Update{}, fmt.Errorf("%w: stream ended before a terminal status", ErrStreamConnection)
}

// apply registers a real update: report it, snap the visual value to it, and
// (re)start interpolation when the stream is still running.
func (sr *StreamReporter) apply(u Update) {
	sr.mu.Lock()
	sr.visual = clampPercent(u.Progress)
	sr.message = u.Message
	sr.running = u.Status == StatusRunning
	sr.mu.Unlock()

	sr.sink.Report(u.Message, clampPercent(u.Progress))

	if u.Status == StatusRunning {
		sr.restartTicker()
	} else {
		sr.stopTicker()
	}
}

func (sr *StreamReporter) restartTicker() {
	sr.stopTicker()
	stop := make(chan struct{})
	sr.mu.Lock()
	sr.stop = stop
	sr.mu.Unlock()
	go func() {
		t := time.NewTicker(sr.tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				sr.mu.Lock()
				if !sr.running || sr.visual >= sr.ceiling {
					sr.mu.Unlock()
					continue
				}
				sr.visual++
				msg, pct := sr.message, sr.visual
				sr.mu.Unlock()
				sr.sink.Report(msg, pct)
			}
		}
	}()
}

func (sr *StreamReporter) stopTicker() {
	sr.mu.Lock()
	stop := sr.stop
	sr.stop = nil
	sr.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
