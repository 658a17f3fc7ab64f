package profiling

import (
	"io"
	"runtime/pprof"
)

// profiler abstracts runtime/pprof so tests can mock it.
type profiler interface {
	StartCPUProfile(w io.Writer) error
	StopCPUProfile()
	WriteHeapProfile(w io.Writer) error
}

type realProfiler struct{}

func (p *realProfiler) StartCPUProfile(w io.Writer) error {
	return pprof.StartCPUProfile(w)
}

func (p *realProfiler) StopCPUProfile() {
	pprof.StopCPUProfile()
}

// WriteHeapProfile writes the cumulative allocation profile.
func (p *realProfiler) WriteHeapProfile(w io.Writer) error {
	return pprof.Lookup("allocs").WriteTo(w, 0)
}
