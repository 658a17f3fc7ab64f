package reqprof

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/internal/adapters/apmhttp"
	"github.com/fllarpy/reqprof/internal/adapters/apmsql"
	"github.com/fllarpy/reqprof/internal/application/hooks"
	"github.com/fllarpy/reqprof/internal/application/profiler"
)

// CLISession profiles one command-line invocation. Its logs are written when
// End runs, since a command has no late shutdown phase.
type CLISession struct {
	ctx      context.Context
	span     trace.Span
	shutdown *hooks.Shutdown
	profiler *profiler.RequestProfiler
	release  func()
}

// StartCLI starts profiling the invocation described by args. Work done with
// the session's Context is attributed to it. When the extension cannot be
// enabled the session still works but records nothing.
func (p *Probe) StartCLI(ctx context.Context, args []string) *CLISession {
	ctx, span := p.tp.Tracer("github.com/fllarpy/reqprof").Start(ctx, "cli", trace.WithSpanKind(trace.SpanKindInternal))
	s := &CLISession{ctx: ctx, span: span, shutdown: hooks.NewShutdown()}
	if !p.ext.Available() {
		p.logger.Debug().Strs("args", args).Msg("Profiler unavailable, command not profiled")
		return s
	}

	queries := apmsql.NewQueryLog()
	calls := apmhttp.NewHTTPLog()
	s.ctx = apmhttp.WithHTTPLog(apmsql.WithQueryLog(ctx, queries), calls)
	sources := domain.Sources{Queries: queries, HTTP: calls}

	if p.cfg.CollectFromTraces && span.SpanContext().IsValid() {
		id := span.SpanContext().TraceID()
		tl := p.spans.Track(id)
		sources = domain.Sources{Queries: tl, HTTP: tl}
		s.release = func() { p.spans.Release(id) }
	}

	rp, err := profiler.Start(s.ctx, profiler.Options{
		Config:     p.cfg,
		Extension:  p.ext,
		Runs:       p.runs,
		Shutdown:   s.shutdown,
		Invocation: domain.Invocation{CLI: true, Args: args},
		Sources:    func(context.Context) domain.Sources { return sources },
		Logger:     p.logger,
	})
	if err != nil {
		p.logger.Debug().Err(err).Msg("Command not profiled")
		if s.release != nil {
			s.release()
		}
		s.release = nil
		return s
	}
	s.profiler = rp
	return s
}

// Context returns the context to run the command's work with.
func (s *CLISession) Context() context.Context { return s.ctx }

// Profiled reports whether the invocation is being profiled.
func (s *CLISession) Profiled() bool { return s.profiler != nil }

// RunID returns the saved run's id once End has run.
func (s *CLISession) RunID() string {
	if s.profiler == nil {
		return ""
	}
	return s.profiler.RunID()
}

// ProfilerURL links to the saved run once End has run.
func (s *CLISession) ProfilerURL() string {
	if s.profiler == nil {
		return ""
	}
	return s.profiler.ProfilerURL()
}

// End completes the profile and writes the logs. Calling it again is a no-op.
func (s *CLISession) End() error {
	defer func() {
		if s.release != nil {
			s.release()
			s.release = nil
		}
	}()
	err := s.shutdown.Run(context.WithoutCancel(s.ctx))
	s.span.End()
	return err
}
