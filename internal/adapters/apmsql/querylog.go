package apmsql

import (
	"context"
	"sync"
	"time"

	"github.com/fllarpy/reqprof/domain/metrics"
)

// QueryLog collects the SQL statements executed for one request. It is safe
// for concurrent use by handlers that fan out to goroutines.
type QueryLog struct {
	mu      sync.Mutex
	queries []metrics.Query
}

// NewQueryLog returns an empty query log.
func NewQueryLog() *QueryLog {
	return &QueryLog{}
}

// Record appends a query.
func (l *QueryLog) Record(q metrics.Query) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, q)
}

// Queries returns a copy of the recorded queries in execution order.
// A nil log reports no enumerable list.
func (l *QueryLog) Queries() ([]metrics.Query, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]metrics.Query, len(l.queries))
	copy(out, l.queries)
	return out, true
}

// Len returns the number of recorded queries.
func (l *QueryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queries)
}

// contextKey is an unexported type for keys defined in this package.
type contextKey struct{}

var queryLogKey = contextKey{}

// WithQueryLog returns a context that collects the queries run with it.
// Handlers pass the request context to database/sql so the wrapped driver can find the log.
func WithQueryLog(parent context.Context, log *QueryLog) context.Context {
	return context.WithValue(parent, queryLogKey, log)
}

// QueryLogFromContext returns the query log or nil if the context was not
// initialised via WithQueryLog.
func QueryLogFromContext(ctx context.Context) *QueryLog {
	log, _ := ctx.Value(queryLogKey).(*QueryLog)
	return log
}

// recordQuery appends an executed statement to the log stored in the context.
func recordQuery(ctx context.Context, query string, dur time.Duration, err error) {
	log := QueryLogFromContext(ctx)
	if log == nil {
		return
	}
	q := metrics.Query{SQL: query, Duration: dur}
	if err != nil {
		q.Err = err.Error()
	}
	log.Record(q)
}
