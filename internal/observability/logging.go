package observability

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the minimal structured-logging surface the orchestrator and
// its components depend on, matching log/slog's method shapes so callers
// can pass slog.Default() directly or swap in a test double shaped like
// the teacher's noopLogger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards every call, mirroring the teacher's noopLogger test
// double (internal/core/noop_logger_test.go) for callers that don't want
// any log output — tests, primarily.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// Span is a lightweight duration tracker logged on End; the pack carries
// no tracing library (no go.mod in the examples imports
// go.opentelemetry.io), so spans here are just timed, attributed log lines
// rather than a real trace exporter.
type Span struct {
	logger Logger
	name   string
	start  time.Time
	attrs  []any
}

// StartSpan begins a span under name, logged at Debug when it ends.
func StartSpan(ctx context.Context, logger Logger, name string, attrs ...any) *Span {
	return &Span{logger: logger, name: name, start: time.Now(), attrs: attrs}
}

// End logs the span's duration plus any additional attributes supplied.
func (s *Span) End(extra ...any) {
	args := append([]any{"duration", time.Since(s.start)}, s.attrs...)
	args = append(args, extra...)
	s.logger.Debug(s.name, args...)
}

// SlogAdapter wraps a *slog.Logger to satisfy Logger, the default ambient
// logging facility per SPEC_FULL.md §8.
type SlogAdapter struct{ L *slog.Logger }

func (a SlogAdapter) Debug(msg string, args ...any) { a.L.Debug(msg, args...) }
func (a SlogAdapter) Info(msg string, args ...any)  { a.L.Info(msg, args...) }
func (a SlogAdapter) Warn(msg string, args ...any)  { a.L.Warn(msg, args...) }
func (a SlogAdapter) Error(msg string, args ...any) { a.L.Error(msg, args...) }

// Default returns the ambient logging facility used when a caller supplies
// no Logger of their own.
func Default() Logger { return SlogAdapter{L: slog.Default()} }
