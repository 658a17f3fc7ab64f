// Package http instruments net/http servers and clients with OpenTelemetry
// spans and the request profiler's outbound call recording.
package http

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fllarpy/reqprof/internal/adapters/apmhttp"
)

// NewMiddleware wraps handler in a server span named operation.
func NewMiddleware(handler http.Handler, operation string, opts ...otelhttp.Option) http.Handler {
	return otelhttp.NewHandler(handler, operation, opts...)
}

// NewTransport returns a RoundTripper that opens a client span per request and
// records the call in the request scope's HTTP log. A nil base uses
// http.DefaultTransport.
func NewTransport(base http.RoundTripper, bodyLimit int64, opts ...otelhttp.Option) http.RoundTripper {
	return otelhttp.NewTransport(apmhttp.NewAPMTransport(base, bodyLimit), opts...)
}

// NewClient returns an http.Client using NewTransport.
func NewClient(bodyLimit int64, opts ...otelhttp.Option) *http.Client {
	return &http.Client{Transport: NewTransport(nil, bodyLimit, opts...)}
}
