package http_middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/exporter"
	"github.com/fllarpy/reqprof/internal/adapters/apmhttp"
	"github.com/fllarpy/reqprof/internal/application/hooks"
	"github.com/fllarpy/reqprof/internal/application/profiler"
	"github.com/fllarpy/reqprof/pkg/config"
)

// Options configures the profiling middleware.
type Options struct {
	Config    *config.Config
	Extension domain.Extension
	Runs      domain.RunStore
	// Spans is required when Config.CollectFromTraces is set.
	Spans  *exporter.SpanCollector
	Logger zerolog.Logger
}

// ProfilingMiddleware creates a new HTTP middleware that profiles every
// request passing the activation gate. It returns a function that takes an
// http.Handler and returns an http.Handler, suitable for use with frameworks like chi.
func ProfilingMiddleware(opts Options) func(http.Handler) http.Handler {
	if opts.Config == nil || opts.Extension == nil || opts.Runs == nil {
		// Nothing to profile with; return a no-op middleware.
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		profiled := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Active(opts.Config, opts.Extension, r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithoutCancel(r.Context())
			shutdown := hooks.NewShutdown()
			p, err := profiler.Start(ctx, profiler.Options{
				Config:     opts.Config,
				Extension:  opts.Extension,
				Runs:       opts.Runs,
				Shutdown:   shutdown,
				Invocation: NewInvocation(r),
				Sources:    sourcesFor(ctx, opts),
				Logger:     opts.Logger,
			})
			if err != nil {
				opts.Logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Serving request without profiling")
				next.ServeHTTP(w, r)
				return
			}

			// The session is released even when next panics.
			defer func() {
				if err := shutdown.Run(ctx); err != nil {
					opts.Logger.Error().Err(err).Str("path", r.URL.Path).Str("run_id", p.RunID()).Msg("Failed to complete request profile")
				}
			}()
			next.ServeHTTP(w, r)
		})

		// The request scope wraps the profiler so the logs are written after
		// the handler's own late shutdown actions.
		return apmhttp.Middleware(opts.Logger, profiled)
	}
}

// Active is the activation gate: the profiler extension is installed and the
// request does not target the profile viewer. A busy CPU profiler does not
// close the gate.
func Active(cfg *config.Config, ext domain.Extension, r *http.Request) bool {
	return ext.Available() && !cfg.IsViewerPath(r.URL.Path)
}

// sourcesFor picks where the profiler reads queries and outbound calls from:
// the spans of the request's trace, or the request scope's collectors.
func sourcesFor(ctx context.Context, opts Options) func(context.Context) domain.Sources {
	if !opts.Config.CollectFromTraces || opts.Spans == nil {
		return apmhttp.Sources
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return apmhttp.Sources
	}

	tl := opts.Spans.Track(sc.TraceID())
	release := func(context.Context) error {
		opts.Spans.Release(sc.TraceID())
		return nil
	}
	if registry := domain.HookRegistryFromContext(ctx); registry != nil {
		registry.AddAction(profiler.LogPriority+1, release)
	}
	return func(context.Context) domain.Sources {
		return domain.Sources{Queries: tl, HTTP: tl}
	}
}
