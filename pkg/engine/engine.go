// Package engine wires the evidence pipeline together: it summarizes logs
// into windows, assembles release assessments, verifies them, and reports
// coverage.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DrSkyle/eviid/pkg/config"
	"github.com/DrSkyle/eviid/pkg/metrics"
	"github.com/DrSkyle/eviid/pkg/storage"
	"github.com/DrSkyle/eviid/pkg/telemetry"
	"github.com/DrSkyle/eviid/pkg/version"
)

// ErrPanic is returned when an operation recovered from a panic.
var ErrPanic = errors.New("engine panic")

// Config holds engine settings. It is built once by the caller and never
// read from package state.
type Config struct {
	Paths       config.Paths
	CatalogPath string
	Window      config.WindowConfig

	// AsOf pins the analysis clock. When nil the wall clock is used for
	// undated events and decisions, and documents are stamped with the end
	// of the last window.
	AsOf *time.Time

	// Publish is an optional s3://bucket/prefix target for exported files.
	Publish string

	Verbose  bool
	JSONLogs bool

	// Telemetry config.
	OtelEndpoint  string
	SkipTelemetry bool

	Logger *slog.Logger
}

// DefaultConfig returns the standard settings rooted at root.
func DefaultConfig(root string) Config {
	return Config{
		Paths:       config.DefaultPaths(root),
		CatalogPath: "traceability/traceability.yaml",
		Window:      config.DefaultWindowConfig(),
	}
}

// Validate checks everything that would otherwise fail halfway through a
// run.
func (c Config) Validate() error {
	if err := c.Paths.Validate(); err != nil {
		return err
	}
	return c.Window.Validate()
}

// Engine is the runtime core.
type Engine struct {
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Recorder
	// Store holds every generated file, keyed relative to the root.
	Store storage.BlobStore

	config    Config
	clock     func() time.Time
	publisher storage.BlobStore
	shutdown  func(context.Context) error
}

// Option defines a functional configuration override.
type Option func(*Engine)

// WithConfig sets raw config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
		if cfg.Logger != nil {
			e.Logger = cfg.Logger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.Logger = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithPublisher sets the store used for publishing instead of one built
// from Config.Publish.
func WithPublisher(s storage.BlobStore) Option {
	return func(e *Engine) {
		e.publisher = s
	}
}

// New validates the configuration and initializes the Engine. Nothing is
// written until an operation runs.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		Tracer:  telemetry.Tracer("eviid/engine"),
		Metrics: metrics.NewRecorder(),
		config:  DefaultConfig("."),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Logger == nil {
		e.Logger = NewLogger(e.config.JSONLogs, e.config.Verbose)
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if e.config.AsOf != nil {
		asOf := *e.config.AsOf
		e.clock = func() time.Time { return asOf }
	}
	e.Store = storage.NewLocalStore(e.config.Paths.Root)

	slog.SetDefault(e.Logger)

	if !e.config.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, e.config.OtelEndpoint)
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdown = shutdown
		}
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Close flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e.shutdown == nil {
		return nil
	}
	return e.shutdown(ctx)
}

// NewLogger builds the process logger. Logs go to stderr so stdout stays
// free for summaries.
func NewLogger(jsonLogs, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{ReplaceAttr: redactSensitiveData}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recoverPanic turns a panic inside an operation into ErrPanic.
func (e *Engine) recoverPanic(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		_, span := e.Tracer.Start(ctx, "CriticalPanic")
		stack := debug.Stack()

		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "CRITICAL FAILURE")
		span.SetAttributes(
			attribute.String("crash.stack", string(stack)),
			attribute.String("crash.reason", fmt.Sprintf("%v", r)),
		)
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
		*errp = fmt.Errorf("%w: %v", ErrPanic, r)
	}
}

// writeMetrics refreshes the textfile. Failures are logged; metrics never
// fail a run.
func (e *Engine) writeMetrics() {
	path := e.config.Paths.Abs(e.config.Paths.MetricsFile())
	if err := e.Metrics.WriteTextfile(path); err != nil {
		e.Logger.Warn("Failed to write metrics", "path", path, "error", err)
	}
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	sensitiveKeys := map[string]bool{
		"password": true, "access_key": true, "token": true,
		"secret": true, "api_key": true, "private_key": true, "auth_token": true,
		"session_token": true, "credential": true, "signature": true,
	}

	if sensitiveKeys[a.Key] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
