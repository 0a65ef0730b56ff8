// Package progress carries (message, percent) updates from long supervisor
// operations to whoever is watching: a log, a UI callback, or both.
package progress

import "log/slog"

// Sink receives progress checkpoints. Implementations must return quickly;
// they are invoked synchronously on the supervisor's path.
type Sink interface {
	Report(message string, percent int)
}

// Func adapts a bare function to Sink.
type Func func(message string, percent int)

func (f Func) Report(message string, percent int) { f(message, percent) }

// Multi fans a report out to several sinks in order.
type Multi []Sink

func (m Multi) Report(message string, percent int) {
	for _, s := range m {
		if s != nil {
			s.Report(message, percent)
		}
	}
}

// Discard drops all reports.
var Discard Sink = Func(func(string, int) {})

// LogSink writes each checkpoint to a slog logger.
type LogSink struct {
	l *slog.Logger
}

func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{l: l}
}

func (s *LogSink) Report(message string, percent int) {
	s.l.Info(message, "percent", percent)
}
