package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/reqprof/exporter"
	"github.com/fllarpy/reqprof/internal/adapters/apmhttp"
)

func TestClient_RecordsInScopeAndTrace(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	spans := exporter.NewSpanCollector(zerolog.Nop())
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	client := NewClient(0, otelhttp.WithTracerProvider(tp))

	var scope *apmhttp.Scope
	handler := apmhttp.Middleware(zerolog.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope = apmhttp.ScopeFromContext(r.Context())
		traceLog := spans.Track(oteltrace.SpanContextFromContext(r.Context()).TraceID())

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstream.URL+"/v1", nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		calls, _ := traceLog.HTTPCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, http.StatusAccepted, calls[0].StatusCode)
	}))

	server := NewMiddleware(handler, "test", otelhttp.WithTracerProvider(tp))
	server.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, scope)
	calls, ok := scope.HTTP.HTTPCalls()
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, upstream.URL+"/v1", calls[0].URL)
	assert.Equal(t, http.StatusAccepted, calls[0].StatusCode)
}
