package exporter

import (
	"sync"
	"time"

	"github.com/fllarpy/reqprof/domain/metrics"
)

// TraceLog holds the queries and outbound HTTP calls of one trace. It serves
// as both the query log and the HTTP collector of a profiled request.
type TraceLog struct {
	mu      sync.Mutex
	queries []metrics.Query
	calls   []metrics.HTTPCall
}

func (l *TraceLog) addQuery(q metrics.Query) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, q)
}

func (l *TraceLog) addCall(c metrics.HTTPCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// Queries returns the collected db spans as queries, in export order.
func (l *TraceLog) Queries() ([]metrics.Query, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]metrics.Query, len(l.queries))
	copy(out, l.queries)
	return out, true
}

// HTTPCalls returns the collected HTTP client spans.
func (l *TraceLog) HTTPCalls() ([]metrics.HTTPCall, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]metrics.HTTPCall, len(l.calls))
	copy(out, l.calls)
	return out, true
}

// TotalTime sums the duration of the HTTP calls.
func (l *TraceLog) TotalTime() time.Duration {
	calls, _ := l.HTTPCalls()
	return metrics.TotalDuration(calls)
}
