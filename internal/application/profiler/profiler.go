// Package profiler implements the request profiling lifecycle: enable the
// call-graph profiler when a request starts, save the run when it ends, and
// append the request, slow-query and outbound-HTTP logs for it.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/pkg/config"
)

const (
	// Namespace tags every run saved by the profiler.
	Namespace = "reqprof"
	// LogPriority runs the log step after other late shutdown actions of the host.
	LogPriority = 1000
)

// ErrAlreadyCompleted is returned when Complete runs more than once.
var ErrAlreadyCompleted = errors.New("request profiler already completed")

// Strategy is how logs are emitted once the run is saved.
type Strategy int

const (
	// Undecided until Complete runs.
	Undecided Strategy = iota
	// Immediate emits logs from Complete.
	Immediate
	// DeferredOnHook emits logs from the host's late shutdown phase.
	DeferredOnHook
)

func (s Strategy) String() string {
	switch s {
	case Immediate:
		return "immediate"
	case DeferredOnHook:
		return "deferred"
	default:
		return "undecided"
	}
}

// Options configures a RequestProfiler.
type Options struct {
	Config     *config.Config
	Extension  domain.Extension
	Runs       domain.RunStore
	Shutdown   domain.ShutdownRegistrar
	Invocation domain.Invocation

	// Sources resolves the optional collaborators when logs are emitted.
	Sources func(ctx context.Context) domain.Sources

	Logger zerolog.Logger
	Now    func() time.Time
}

// RequestProfiler profiles one request or CLI invocation.
type RequestProfiler struct {
	cfg     *config.Config
	runs    domain.RunStore
	inv     domain.Invocation
	sources func(ctx context.Context) domain.Sources
	logger  zerolog.Logger
	now     func() time.Time

	session   domain.ProfileSession
	startTime time.Time
	completed atomic.Bool

	mu       sync.RWMutex
	endTime  time.Time
	runID    string
	strategy Strategy
}

// Start records the start time, enables the profiler and registers Complete
// to run at shutdown. Callers must check the activation gate first; an error
// means the request is served without profiling.
func Start(ctx context.Context, opts Options) (*RequestProfiler, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("profiler: config is required")
	case opts.Extension == nil:
		return nil, errors.New("profiler: extension is required")
	case opts.Runs == nil:
		return nil, errors.New("profiler: run store is required")
	case opts.Shutdown == nil:
		return nil, errors.New("profiler: shutdown registrar is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	p := &RequestProfiler{
		cfg:       opts.Config,
		runs:      opts.Runs,
		inv:       opts.Invocation,
		sources:   opts.Sources,
		logger:    opts.Logger,
		now:       now,
		startTime: now(),
	}

	session, err := opts.Extension.Enable(domain.FlagCPU | domain.FlagMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to enable profiler: %w", err)
	}
	p.session = session

	opts.Shutdown.Register(p.Complete)
	return p, nil
}

// Complete disables the profiler, saves the run and either emits the logs or
// defers them to the host's late shutdown phase when ctx carries a hook registry.
func (p *RequestProfiler) Complete(ctx context.Context) error {
	if !p.completed.CompareAndSwap(false, true) {
		return ErrAlreadyCompleted
	}

	data, disableErr := p.session.Disable()
	end := p.now()

	var saveErr error
	runID := ""
	if disableErr != nil {
		saveErr = fmt.Errorf("failed to disable profiler: %w", disableErr)
	} else if runID, saveErr = p.runs.SaveRun(ctx, data, Namespace); saveErr != nil {
		saveErr = fmt.Errorf("failed to save run: %w", saveErr)
	}

	p.mu.Lock()
	p.endTime = end
	p.runID = runID
	p.mu.Unlock()

	if saveErr != nil {
		p.logger.Error().Err(saveErr).Msg("Profile run was not saved")
	} else {
		p.logger.Debug().Str("run_id", runID).Dur("elapsed", p.Elapsed()).Msg("Profile run saved")
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("reqprof.run_id", runID),
			attribute.String("reqprof.url", p.ProfilerURL()),
		)
	}

	if hooks := domain.HookRegistryFromContext(ctx); hooks != nil {
		p.setStrategy(DeferredOnHook)
		hooks.AddAction(LogPriority, p.EmitLogs)
		return saveErr
	}

	p.setStrategy(Immediate)
	return errors.Join(saveErr, p.EmitLogs(ctx))
}

// EmitLogs writes the request log, the slow-query log and the HTTP log. Each
// step runs even when an earlier one fails. The per-run logs are skipped when
// the run has no id.
func (p *RequestProfiler) EmitLogs(ctx context.Context) error {
	if !p.completed.Load() {
		return errors.New("profiler: logs emitted before completion")
	}

	var sources domain.Sources
	resolveErr := p.step("sources", func() error {
		if p.sources != nil {
			sources = p.sources(ctx)
		}
		return nil
	})

	requestErr := p.step("request", p.logRequest)

	// Per-run logs are named after the run id; without one they would
	// collide with every other unsaved run.
	if p.RunID() == "" {
		p.logger.Warn().Msg("Run was not saved, skipping query and HTTP logs")
		return errors.Join(resolveErr, requestErr)
	}

	return errors.Join(
		resolveErr,
		requestErr,
		p.step("queries", func() error { return p.logSlowQueries(sources.Queries) }),
		p.step("http", func() error { return p.logHTTPRequests(sources.HTTP) }),
	)
}

func (p *RequestProfiler) step(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s log panicked: %v", name, rec)
		}
		if err != nil {
			p.logger.Error().Err(err).Str("log", name).Str("run_id", p.RunID()).Msg("Failed to write profiler log")
		}
	}()
	return fn()
}

func (p *RequestProfiler) setStrategy(s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = s
}

// Strategy returns how logs were emitted.
func (p *RequestProfiler) Strategy() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// StartTime returns when the request started.
func (p *RequestProfiler) StartTime() time.Time { return p.startTime }

// EndTime returns when the request completed, or the zero time before completion.
func (p *RequestProfiler) EndTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endTime
}

// RunID returns the id of the saved run, or "" before completion.
func (p *RequestProfiler) RunID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID
}

// Elapsed returns EndTime - StartTime, or zero before completion.
func (p *RequestProfiler) Elapsed() time.Duration {
	end := p.EndTime()
	if end.IsZero() {
		return 0
	}
	return end.Sub(p.startTime)
}
