// Package reqprof profiles individual HTTP requests and CLI invocations and
// appends a line per request to xhprof.log, plus slow-query and outbound HTTP
// reports per run, next to the stored pprof profiles.
package reqprof

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"

	"github.com/XSAM/otelsql"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/exporter"
	"github.com/fllarpy/reqprof/infrastructure/storage"
	httpinstrumentation "github.com/fllarpy/reqprof/instrumentation/http"
	sqlinstrumentation "github.com/fllarpy/reqprof/instrumentation/sql"
	"github.com/fllarpy/reqprof/internal/application/profiler"
	"github.com/fllarpy/reqprof/internal/logging"
	"github.com/fllarpy/reqprof/internal/ports/http_middleware"
	"github.com/fllarpy/reqprof/internal/ports/http_reporter"
	"github.com/fllarpy/reqprof/pkg/config"
	"github.com/fllarpy/reqprof/profiling"
)

// Version is reported as the service version of the tracer resource.
const Version = "0.1.0"

// Probe owns the process-wide profiling state: the profiler extension, the
// run store and the tracer provider feeding the span collector.
type Probe struct {
	cfg    *config.Config
	logger zerolog.Logger
	ext    *profiling.Extension
	runs   storage.Store
	spans  *exporter.SpanCollector
	tp     *sdktrace.TracerProvider
}

// Option customizes NewProbe.
type Option func(*Probe)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Probe) { p.logger = logger }
}

// WithRunStore replaces the store selected by the configuration.
func WithRunStore(runs storage.Store) Option {
	return func(p *Probe) { p.runs = runs }
}

// NewProbe builds a probe for serviceName. A nil cfg is loaded from the environment.
func NewProbe(ctx context.Context, serviceName string, cfg *config.Config, opts ...Option) (*Probe, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Load(""); err != nil {
			return nil, err
		}
	}

	p := &Probe{
		cfg:    cfg,
		logger: logging.NewWithComponent(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty}, "reqprof"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.runs == nil {
		runs, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.runs = runs
	}

	res, err := newResource(ctx, serviceName, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracer resource: %w", err)
	}

	p.ext = profiling.NewExtension(p.logger)
	p.spans = exporter.NewSpanCollector(p.logger)
	// Spans are exported synchronously so a request's client spans are
	// collected before its logs are written.
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(p.spans),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tp)

	p.logger.Info().
		Str("service", serviceName).
		Str("backend", cfg.ProfilerLibPath).
		Str("log_location", cfg.LogLocation).
		Msg("Request profiler initialized")
	return p, nil
}

func newResource(ctx context.Context, serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}

// Config returns the configuration the probe was built with.
func (p *Probe) Config() *config.Config { return p.cfg }

// Logger returns the diagnostics logger.
func (p *Probe) Logger() zerolog.Logger { return p.logger }

// Runs returns the run store.
func (p *Probe) Runs() domain.RunStore { return p.runs }

// TracerProvider returns the provider whose spans feed the profiler.
func (p *Probe) TracerProvider() trace.TracerProvider { return p.tp }

// Viewer returns the profile viewer handler.
func (p *Probe) Viewer() http.Handler {
	return http_reporter.NewHandler(p.runs, profiler.Namespace, p.logger)
}

// Middleware traces and profiles the requests served by next and serves the
// profile viewer under the configured relative path.
func (p *Probe) Middleware(next http.Handler) http.Handler {
	viewer := p.Viewer()
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.cfg.IsViewerRoute(r.URL.Path) {
			viewer.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})

	profiled := http_middleware.ProfilingMiddleware(http_middleware.Options{
		Config:    p.cfg,
		Extension: p.ext,
		Runs:      p.runs,
		Spans:     p.spans,
		Logger:    p.logger,
	})(routed)

	return httpinstrumentation.NewMiddleware(profiled, "http-server", otelhttp.WithTracerProvider(p.tp))
}

// NewClient returns an http.Client whose calls appear in the HTTP report of
// the request they are made for.
func (p *Probe) NewClient() *http.Client {
	return httpinstrumentation.NewClient(p.cfg.CaptureBodyLimit, otelhttp.WithTracerProvider(p.tp))
}

// RegisterDriver registers d under name so handles opened with sql.Open(name, ...)
// are traced and their queries reported.
func (p *Probe) RegisterDriver(name string, d driver.Driver) {
	sqlinstrumentation.Register(name, d,
		otelsql.WithTracerProvider(p.tp),
		otelsql.WithAttributes(semconv.DBSystemKey.String(name)),
	)
}

// OpenDB opens a database whose queries appear in the slow-query report of
// the request they run for.
func (p *Probe) OpenDB(driverName, dataSourceName string) (*sql.DB, error) {
	return sqlinstrumentation.OpenDB(driverName, dataSourceName,
		otelsql.WithTracerProvider(p.tp),
		otelsql.WithAttributes(semconv.DBSystemKey.String(driverName)),
	)
}

// Shutdown flushes the tracer provider and closes the run store.
func (p *Probe) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down tracer provider: %w", err))
	}
	if err := p.runs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close run store: %w", err))
	}
	return errors.Join(errs...)
}
