// Package exporter turns OpenTelemetry client spans into the query and HTTP
// logs the request profiler writes, for hosts whose database and HTTP clients
// are instrumented with otelsql and otelhttp rather than the apm wrappers.
package exporter

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/domain/metrics"
)

// Attribute keys not covered by the semconv version in use, including the
// ones of older instrumentations.
const (
	dbQueryText          attribute.Key = "db.query.text"
	dbSystemName         attribute.Key = "db.system.name"
	httpRequestBodySize  attribute.Key = "http.request.body.size"
	httpResponseBodySize attribute.Key = "http.response.body.size"
	legacyDBStatement    attribute.Key = "db.statement"
	legacyHTTPMethod     attribute.Key = "http.method"
	legacyHTTPURL        attribute.Key = "http.url"
	legacyHTTPStatusCode attribute.Key = "http.status_code"
)

var _ sdktrace.SpanExporter = (*SpanCollector)(nil)

// SpanCollector is a span exporter that files client spans under the trace
// they belong to. Only traces registered with Track are collected.
type SpanCollector struct {
	logger zerolog.Logger

	mu     sync.Mutex
	traces map[trace.TraceID]*TraceLog
}

// NewSpanCollector returns a collector with no tracked traces.
func NewSpanCollector(logger zerolog.Logger) *SpanCollector {
	return &SpanCollector{
		logger: logger,
		traces: make(map[trace.TraceID]*TraceLog),
	}
}

// Track starts collecting the client spans of id and returns their log.
// Tracking an already tracked trace returns the existing log.
func (c *SpanCollector) Track(id trace.TraceID) *TraceLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tl, ok := c.traces[id]; ok {
		return tl
	}
	tl := &TraceLog{}
	c.traces[id] = tl
	return tl
}

// Release stops collecting spans of id.
func (c *SpanCollector) Release(id trace.TraceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.traces, id)
}

// Tracked returns the number of traces being collected.
func (c *SpanCollector) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.traces)
}

func (c *SpanCollector) lookup(id trace.TraceID) *TraceLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traces[id]
}

// ExportSpans implements sdktrace.SpanExporter.
func (c *SpanCollector) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		if span.SpanKind() != trace.SpanKindClient {
			continue
		}
		tl := c.lookup(span.SpanContext().TraceID())
		if tl == nil {
			continue
		}

		attrs := attributeMap(span.Attributes())
		switch {
		case isDBSpan(attrs):
			q := queryFromSpan(span, attrs)
			c.logger.Debug().Str("trace_id", span.SpanContext().TraceID().String()).Dur("duration", q.Duration).Msg("Collected db span")
			tl.addQuery(q)
		case isHTTPSpan(attrs):
			call := callFromSpan(span, attrs)
			c.logger.Debug().Str("trace_id", span.SpanContext().TraceID().String()).Str("url", call.URL).Msg("Collected http client span")
			tl.addCall(call)
		}
	}
	return nil
}

// Shutdown drops every tracked trace.
func (c *SpanCollector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = make(map[trace.TraceID]*TraceLog)
	return nil
}

func attributeMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func first(attrs map[attribute.Key]attribute.Value, keys ...attribute.Key) (attribute.Value, bool) {
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			return v, true
		}
	}
	return attribute.Value{}, false
}

func isDBSpan(attrs map[attribute.Key]attribute.Value) bool {
	_, ok := first(attrs, semconv.DBSystemKey, dbSystemName, dbQueryText, legacyDBStatement)
	return ok
}

func isHTTPSpan(attrs map[attribute.Key]attribute.Value) bool {
	_, ok := first(attrs, semconv.HTTPRequestMethodKey, legacyHTTPMethod)
	return ok
}

func spanError(span sdktrace.ReadOnlySpan) string {
	if span.Status().Code != codes.Error {
		return ""
	}
	if span.Status().Description != "" {
		return span.Status().Description
	}
	return "error"
}

func queryFromSpan(span sdktrace.ReadOnlySpan, attrs map[attribute.Key]attribute.Value) metrics.Query {
	q := metrics.Query{
		SQL:      span.Name(),
		Duration: span.EndTime().Sub(span.StartTime()),
		Err:      spanError(span),
	}
	if v, ok := first(attrs, dbQueryText, legacyDBStatement); ok {
		q.SQL = v.AsString()
	}
	return q
}

func callFromSpan(span sdktrace.ReadOnlySpan, attrs map[attribute.Key]attribute.Value) metrics.HTTPCall {
	call := metrics.HTTPCall{
		Method:   http.MethodGet,
		URL:      span.Name(),
		Duration: span.EndTime().Sub(span.StartTime()),
		Err:      spanError(span),
	}
	if v, ok := first(attrs, semconv.HTTPRequestMethodKey, legacyHTTPMethod); ok {
		call.Method = v.AsString()
	}
	if v, ok := first(attrs, semconv.URLFullKey, legacyHTTPURL); ok {
		call.URL = v.AsString()
	}
	if v, ok := first(attrs, semconv.HTTPResponseStatusCodeKey, legacyHTTPStatusCode); ok {
		call.StatusCode = int(v.AsInt64())
	}
	if v, ok := attrs[httpRequestBodySize]; ok {
		call.UploadBytes = v.AsInt64()
	}
	if v, ok := attrs[httpResponseBodySize]; ok {
		call.DownloadBytes = v.AsInt64()
	}
	return call
}
