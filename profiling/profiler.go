package profiling

import (
	"bytes"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fllarpy/reqprof/domain"
)

var (
	// ErrUnavailable is returned by Enable on an extension without a profiler.
	ErrUnavailable = errors.New("profiler unavailable")
	// ErrSessionClosed is returned when a session is disabled twice.
	ErrSessionClosed = errors.New("profiling session already disabled")
)

var _ domain.Extension = (*Extension)(nil)

// Extension is the process-wide call-graph profiler. The Go CPU profiler is
// global, so at most one session owns it at a time; sessions enabled while it
// is taken capture memory only.
type Extension struct {
	cpuMu    sync.Mutex
	profiler profiler
	readMem  func(*runtime.MemStats)
	logger   zerolog.Logger
}

// NewExtension returns an Extension backed by runtime/pprof.
func NewExtension(logger zerolog.Logger) *Extension {
	return &Extension{
		profiler: &realProfiler{},
		readMem:  runtime.ReadMemStats,
		logger:   logger,
	}
}

// Available reports whether the extension can enable sessions. A busy CPU
// profiler does not make it unavailable.
func (e *Extension) Available() bool {
	return e != nil && e.profiler != nil
}

// CPUBusy reports whether a live session owns the CPU profiler.
func (e *Extension) CPUBusy() bool {
	if !e.cpuMu.TryLock() {
		return true
	}
	e.cpuMu.Unlock()
	return false
}

// Enable starts a session. When FlagCPU is requested but the CPU profiler is
// owned by another session, or fails to start, the session runs without it.
func (e *Extension) Enable(flags domain.ProfileFlags) (domain.ProfileSession, error) {
	if !e.Available() {
		return nil, ErrUnavailable
	}

	s := &session{ext: e, started: time.Now()}
	if flags.Has(domain.FlagCPU) {
		if e.cpuMu.TryLock() {
			if err := e.profiler.StartCPUProfile(&s.cpu); err != nil {
				e.cpuMu.Unlock()
				e.logger.Debug().Err(err).Msg("CPU profiler did not start, capturing memory only")
				flags &^= domain.FlagCPU
			}
		} else {
			e.logger.Debug().Msg("CPU profiler busy, capturing memory only")
			flags &^= domain.FlagCPU
		}
	}
	s.flags = flags
	if flags.Has(domain.FlagMemory) {
		e.readMem(&s.before)
	}
	e.logger.Debug().Uint8("flags", uint8(flags)).Msg("Profiling session enabled")
	return s, nil
}

type session struct {
	ext     *Extension
	flags   domain.ProfileFlags
	started time.Time
	before  runtime.MemStats
	cpu     bytes.Buffer
	closed  atomic.Bool
}

// Disable stops the session and returns what it captured.
func (s *session) Disable() (*domain.CallGraph, error) {
	if !s.closed.CompareAndSwap(false, true) {
		return nil, ErrSessionClosed
	}

	graph := &domain.CallGraph{Started: s.started}
	if s.flags.Has(domain.FlagCPU) {
		s.ext.profiler.StopCPUProfile()
		graph.CPU = s.cpu.Bytes()
		s.ext.cpuMu.Unlock()
	}
	if s.flags.Has(domain.FlagMemory) {
		var heap bytes.Buffer
		if err := s.ext.profiler.WriteHeapProfile(&heap); err != nil {
			s.ext.logger.Warn().Err(err).Msg("Failed to write allocation profile")
		} else {
			graph.Heap = heap.Bytes()
		}

		var after runtime.MemStats
		s.ext.readMem(&after)
		graph.Memory = memoryDelta(&s.before, &after)
	}
	graph.Stopped = time.Now()

	s.ext.logger.Debug().
		Dur("wall", graph.Wall()).
		Int("cpu_bytes", len(graph.CPU)).
		Int("heap_bytes", len(graph.Heap)).
		Msg("Profiling session disabled")
	return graph, nil
}

func memoryDelta(before, after *runtime.MemStats) domain.MemoryDelta {
	return domain.MemoryDelta{
		AllocBytes: after.TotalAlloc - before.TotalAlloc,
		Mallocs:    after.Mallocs - before.Mallocs,
		Frees:      after.Frees - before.Frees,
		HeapInuse:  after.HeapInuse,
		GCCycles:   after.NumGC - before.NumGC,
	}
}
