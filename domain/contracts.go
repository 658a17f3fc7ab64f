package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fllarpy/reqprof/domain/metrics"
)

// ErrRunNotFound is returned by a RunStore when no run matches the id and namespace.
var ErrRunNotFound = errors.New("run not found")

// ProfileFlags selects what a profiling session captures.
type ProfileFlags uint8

const (
	// FlagCPU captures a CPU profile for the lifetime of the session.
	FlagCPU ProfileFlags = 1 << iota
	// FlagMemory adds an allocation profile and memory statistics.
	FlagMemory
)

// Has reports whether all bits of f are set.
func (p ProfileFlags) Has(f ProfileFlags) bool { return p&f == f }

// CallGraph is the profile captured for one request. CPU and Heap hold
// gzipped pprof protobufs as written by runtime/pprof.
type CallGraph struct {
	Started time.Time   `json:"started"`
	Stopped time.Time   `json:"stopped"`
	CPU     []byte      `json:"-"`
	Heap    []byte      `json:"-"`
	Memory  MemoryDelta `json:"memory"`
}

// Wall returns the time the session was enabled.
func (c *CallGraph) Wall() time.Duration { return c.Stopped.Sub(c.Started) }

// MemoryDelta is the change in runtime memory statistics across a session.
type MemoryDelta struct {
	AllocBytes uint64 `json:"alloc_bytes"`
	Mallocs    uint64 `json:"mallocs"`
	Frees      uint64 `json:"frees"`
	HeapInuse  uint64 `json:"heap_inuse"`
	GCCycles   uint32 `json:"gc_cycles"`
}

// RunInfo describes a stored run without its profile payloads.
type RunInfo struct {
	ID        string        `json:"id"`
	Namespace string        `json:"namespace"`
	CreatedAt time.Time     `json:"created_at"`
	Wall      time.Duration `json:"wall_ns"`
	HasHeap   bool          `json:"has_heap"`
}

// NewRunID returns a fresh opaque run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// ProfileSession is an enabled profiler. It is consumed exactly once by Disable.
type ProfileSession interface {
	Disable() (*CallGraph, error)
}

// Extension is the process-wide call-graph profiler.
type Extension interface {
	// Available reports whether the extension is installed. Sessions can be
	// enabled concurrently; what each captures may be reduced.
	Available() bool
	Enable(flags ProfileFlags) (ProfileSession, error)
}

// RunStore persists call graphs and issues run ids.
type RunStore interface {
	SaveRun(ctx context.Context, data *CallGraph, namespace string) (string, error)
	GetRun(ctx context.Context, id, namespace string) (*CallGraph, error)
	ListRuns(ctx context.Context, namespace string, limit int) ([]RunInfo, error)
}

// QueryLogSource exposes the SQL statements executed for one request.
// The boolean is false when the source holds no enumerable query list.
type QueryLogSource interface {
	Queries() ([]metrics.Query, bool)
}

// HTTPCollectorSource exposes the outbound HTTP calls made for one request.
// The boolean is false when the collector has no data.
type HTTPCollectorSource interface {
	HTTPCalls() ([]metrics.HTTPCall, bool)
	TotalTime() time.Duration
}

// Sources are the optional collaborators resolved when logs are emitted.
// A nil field means the collaborator is absent.
type Sources struct {
	Queries QueryLogSource
	HTTP    HTTPCollectorSource
}

// ShutdownRegistrar registers callbacks to run when the request or process ends.
type ShutdownRegistrar interface {
	Register(fn func(ctx context.Context) error)
}

// HookRegistry is a host framework's late shutdown phase.
// Lower priorities run first; equal priorities run in registration order.
type HookRegistry interface {
	AddAction(priority int, fn func(ctx context.Context) error)
}

type hookRegistryKey struct{}

// WithHookRegistry attaches a host hook registry to ctx.
func WithHookRegistry(ctx context.Context, r HookRegistry) context.Context {
	return context.WithValue(ctx, hookRegistryKey{}, r)
}

// HookRegistryFromContext returns the host hook registry, or nil outside a host framework.
func HookRegistryFromContext(ctx context.Context) HookRegistry {
	r, _ := ctx.Value(hookRegistryKey{}).(HookRegistry)
	return r
}
