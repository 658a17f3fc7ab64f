package apmhttp

import (
	"context"
	"sync"
	"time"

	"github.com/fllarpy/reqprof/domain/metrics"
)

// HTTPLog collects the outbound HTTP calls made for one request.
type HTTPLog struct {
	mu    sync.Mutex
	calls []metrics.HTTPCall
}

// NewHTTPLog returns an empty log.
func NewHTTPLog() *HTTPLog {
	return &HTTPLog{}
}

// Record appends call and returns its index.
func (l *HTTPLog) Record(call metrics.HTTPCall) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
	return len(l.calls) - 1
}

func (l *HTTPLog) addDownload(i int, n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[i].DownloadBytes += n
}

// HTTPCalls returns a copy of the recorded calls. A nil log has no data.
func (l *HTTPLog) HTTPCalls() ([]metrics.HTTPCall, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]metrics.HTTPCall, len(l.calls))
	copy(out, l.calls)
	return out, true
}

// TotalTime sums the duration of every recorded call.
func (l *HTTPLog) TotalTime() time.Duration {
	calls, _ := l.HTTPCalls()
	return metrics.TotalDuration(calls)
}

type contextKey struct{}

var httpLogKey = contextKey{}

// WithHTTPLog returns a context whose outbound calls are recorded in log.
func WithHTTPLog(parent context.Context, log *HTTPLog) context.Context {
	return context.WithValue(parent, httpLogKey, log)
}

// HTTPLogFromContext returns the log or nil if none was attached.
func HTTPLogFromContext(ctx context.Context) *HTTPLog {
	log, _ := ctx.Value(httpLogKey).(*HTTPLog)
	return log
}
