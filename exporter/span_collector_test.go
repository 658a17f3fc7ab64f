package exporter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	traceID = oteltrace.TraceID{0x01}
	spanID  = oteltrace.SpanID{0x01}
)

func stub(kind oteltrace.SpanKind, name string, dur time.Duration, attrs ...attribute.KeyValue) tracetest.SpanStub {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return tracetest.SpanStub{
		Name:        name,
		SpanContext: oteltrace.NewSpanContext(oteltrace.SpanContextConfig{TraceID: traceID, SpanID: spanID}),
		SpanKind:    kind,
		StartTime:   start,
		EndTime:     start.Add(dur),
		Attributes:  attrs,
	}
}

func export(t *testing.T, c *SpanCollector, stubs ...tracetest.SpanStub) {
	t.Helper()
	spans := make([]sdktrace.ReadOnlySpan, len(stubs))
	for i, s := range stubs {
		spans[i] = s.Snapshot()
	}
	require.NoError(t, c.ExportSpans(context.Background(), spans))
}

func TestSpanCollector_ExportSpans(t *testing.T) {
	t.Run("collects db client spans", func(t *testing.T) {
		c := NewSpanCollector(zerolog.Nop())
		tl := c.Track(traceID)

		export(t, c,
			stub(oteltrace.SpanKindClient, "sql.conn.query", 200*time.Millisecond,
				semconv.DBSystemSqlite, attribute.String("db.statement", "SELECT * FROM posts")),
			stub(oteltrace.SpanKindClient, "SELECT", 5*time.Millisecond,
				attribute.String("db.query.text", "SELECT 1")),
		)

		queries, ok := tl.Queries()
		require.True(t, ok)
		require.Len(t, queries, 2)
		assert.Equal(t, "SELECT * FROM posts", queries[0].SQL)
		assert.Equal(t, 200*time.Millisecond, queries[0].Duration)
		assert.Equal(t, "SELECT 1", queries[1].SQL)

		calls, ok := tl.HTTPCalls()
		assert.True(t, ok)
		assert.Empty(t, calls)
	})

	t.Run("collects http client spans", func(t *testing.T) {
		c := NewSpanCollector(zerolog.Nop())
		tl := c.Track(traceID)

		failed := stub(oteltrace.SpanKindClient, "GET", 30*time.Millisecond,
			attribute.String("http.method", "GET"), attribute.String("http.url", "http://legacy.test/"))
		failed.Status = sdktrace.Status{Code: codes.Error, Description: "connection refused"}

		export(t, c,
			stub(oteltrace.SpanKindClient, "POST", 120*time.Millisecond,
				semconv.HTTPRequestMethodKey.String("POST"),
				semconv.URLFull("https://api.example.com/v1/orders"),
				semconv.HTTPResponseStatusCode(201),
				attribute.Int64("http.request.body.size", 2048),
				attribute.Int64("http.response.body.size", 512)),
			failed,
		)

		calls, _ := tl.HTTPCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "POST", calls[0].Method)
		assert.Equal(t, "https://api.example.com/v1/orders", calls[0].URL)
		assert.Equal(t, 201, calls[0].StatusCode)
		assert.Equal(t, int64(2048), calls[0].UploadBytes)
		assert.Equal(t, int64(512), calls[0].DownloadBytes)
		assert.Empty(t, calls[0].Err)

		assert.Equal(t, "http://legacy.test/", calls[1].URL)
		assert.Zero(t, calls[1].StatusCode)
		assert.Equal(t, "connection refused", calls[1].Err)
		assert.Equal(t, 150*time.Millisecond, tl.TotalTime())
	})

	t.Run("ignores server and internal spans", func(t *testing.T) {
		c := NewSpanCollector(zerolog.Nop())
		tl := c.Track(traceID)

		export(t, c,
			stub(oteltrace.SpanKindServer, "/test", 10*time.Millisecond, semconv.HTTPRequestMethodKey.String("GET")),
			stub(oteltrace.SpanKindInternal, "work", 10*time.Millisecond, semconv.DBSystemSqlite),
		)

		queries, _ := tl.Queries()
		calls, _ := tl.HTTPCalls()
		assert.Empty(t, queries)
		assert.Empty(t, calls)
	})

	t.Run("ignores untracked traces", func(t *testing.T) {
		c := NewSpanCollector(zerolog.Nop())
		tl := c.Track(oteltrace.TraceID{0x02})

		export(t, c, stub(oteltrace.SpanKindClient, "q", time.Millisecond, semconv.DBSystemSqlite))

		queries, _ := tl.Queries()
		assert.Empty(t, queries)
	})
}

func TestSpanCollector_TrackRelease(t *testing.T) {
	c := NewSpanCollector(zerolog.Nop())

	tl := c.Track(traceID)
	assert.Same(t, tl, c.Track(traceID))
	assert.Equal(t, 1, c.Tracked())

	c.Release(traceID)
	assert.Zero(t, c.Tracked())

	export(t, c, stub(oteltrace.SpanKindClient, "q", time.Millisecond, semconv.DBSystemSqlite))
	queries, _ := tl.Queries()
	assert.Empty(t, queries, "released traces are no longer collected")

	c.Track(traceID)
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Zero(t, c.Tracked())
}

func TestSpanCollector_WithTracerProvider(t *testing.T) {
	c := NewSpanCollector(zerolog.Nop())
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(c))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	ctx, root := tracer.Start(context.Background(), "GET /", oteltrace.WithSpanKind(oteltrace.SpanKindServer))
	tl := c.Track(root.SpanContext().TraceID())

	_, q := tracer.Start(ctx, "query", oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(semconv.DBSystemSqlite, attribute.String("db.statement", "SELECT 42")))
	q.End()
	root.End()

	queries, _ := tl.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "SELECT 42", queries[0].SQL)
}

func TestTraceLog_Nil(t *testing.T) {
	var tl *TraceLog
	_, ok := tl.Queries()
	assert.False(t, ok)
	_, ok = tl.HTTPCalls()
	assert.False(t, ok)
	assert.Zero(t, tl.TotalTime())
}
