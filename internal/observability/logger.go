// Package observability provides structured logging and metrics collection
// for the orchestrator and benchmark runner.
//
// Logger wraps zerolog with run-specific context fields. Metrics collects
// run statistics, quality scores, and cost across tasks.
package observability

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with persistent run context.
type Logger struct {
	mu    sync.RWMutex
	inner zerolog.Logger
	run   string
}

// NewLogger creates a structured logger tagged with a run identifier
// (benchmark run id, or task session id for a standalone micro-task run).
// Output defaults to os.Stderr if w is nil.
func NewLogger(runID string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	base := zerolog.New(w).With().Timestamp().Str("run", runID).Logger()
	return &Logger{inner: base, run: runID}
}

// NewLoggerWithWriter creates a logger writing through an arbitrary
// zerolog.Logger, e.g. a console writer for interactive CLI use.
func NewLoggerWithWriter(runID string, base zerolog.Logger) *Logger {
	return &Logger{inner: base.With().Str("run", runID).Logger(), run: runID}
}

// With returns a new Logger with an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{inner: l.inner.With().Interface(key, value).Logger(), run: l.run}
}

// Debug logs at DEBUG level with key/value pairs (even count, alternating key, value).
func (l *Logger) Debug(msg string, kv ...any) {
	l.event(l.inner.Debug(), msg, kv)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, kv ...any) {
	l.event(l.inner.Info(), msg, kv)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, kv ...any) {
	l.event(l.inner.Warn(), msg, kv)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, kv ...any) {
	l.event(l.inner.Error(), msg, kv)
}

func (l *Logger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

// Turn logs a single orchestrator turn event.
func (l *Logger) Turn(taskID string, turn int, msg string, kv ...any) {
	e := l.inner.Info().Str("task_id", taskID).Int("turn", turn)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

// TaskOutcome logs a task's terminal classification.
func (l *Logger) TaskOutcome(taskID, outcome string, durationMs int64, turns int) {
	l.inner.Info().
		Str("task_id", taskID).
		Str("outcome", outcome).
		Int64("duration_ms", durationMs).
		Int("turns", turns).
		Msg("task complete")
}

// RunID returns the run identifier associated with this logger.
func (l *Logger) RunID() string {
	return l.run
}
