// Package telemetry provides the structured logger used throughout
// keepassdb: a slog fan-out across multiple handlers. There are no
// metrics or trace exporters because this library has no network
// transport, so there is nothing for a span or a counter to report
// to.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Service is the logger threaded into Open and Save via
// database.WithTelemetry. Construct one with New and defer Shutdown.
type Service struct {
	Logger    *slog.Logger
	StartTime time.Time

	closers []io.Closer
}

// Option configures a Service under construction.
type Option func(*options)

type options struct {
	level      slog.Leveler
	extraSinks []io.Writer
	jsonSink   io.Writer
}

// WithLevel sets the minimum level the text handler emits. Defaults to
// slog.LevelInfo.
func WithLevel(level slog.Leveler) Option {
	return func(o *options) { o.level = level }
}

// WithJSONSink additionally fans every record out as JSON to w, e.g. a
// buffer a test inspects afterward.
func WithJSONSink(w io.Writer) Option {
	return func(o *options) { o.jsonSink = w }
}

// New builds a Service that writes human-readable text to stderr and,
// if configured, JSON to an additional sink, via slog-multi's fan-out
// handler.
func New(opts ...Option) *Service {
	cfg := &options{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(cfg)
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level}),
	}
	if cfg.jsonSink != nil {
		handlers = append(handlers, slog.NewJSONHandler(cfg.jsonSink, &slog.HandlerOptions{Level: cfg.level}))
	}

	fanout := slogmulti.Fanout(handlers...)
	return &Service{
		Logger:    slog.New(fanout),
		StartTime: time.Now(),
	}
}

// RequireNewForTest builds a Service suitable for use in tests: a JSON
// sink buffer callers can assert against, at Debug level so test
// assertions can see every log line.
func RequireNewForTest(sink io.Writer) *Service {
	return New(WithLevel(slog.LevelDebug), WithJSONSink(sink))
}

// Nop returns a Service that discards every record. It is what a
// library call uses when the caller supplied no service of its own.
func Nop() *Service {
	return &Service{Logger: slog.New(slog.DiscardHandler), StartTime: time.Now()}
}

// Shutdown releases any resources opened by New. Safe to call on a
// Service with none.
func (s *Service) Shutdown() {
	for _, c := range s.closers {
		_ = c.Close()
	}
}

// WithGroup returns a Service whose Logger nests subsequent fields
// under group, e.g. one per open database handle.
func (s *Service) WithGroup(group string) *Service {
	return &Service{Logger: s.Logger.WithGroup(group), StartTime: s.StartTime}
}

// LogDecodeError logs a decode failure at Warn with its kind and
// summary, used by every Open path right before the error is returned
// to the caller.
func (s *Service) LogDecodeError(ctx context.Context, op string, err error) {
	s.Logger.WarnContext(ctx, "decode failed", "op", op, "error", err)
}

// LogOpen logs a successful Open at Debug.
func (s *Service) LogOpen(ctx context.Context, format string, elapsed time.Duration) {
	s.Logger.DebugContext(ctx, "database opened", "format", format, "elapsed", elapsed.String())
}

// LogSave logs a successful Save at Debug.
func (s *Service) LogSave(ctx context.Context, format string, elapsed time.Duration) {
	s.Logger.DebugContext(ctx, "database saved", "format", format, "elapsed", elapsed.String())
}
