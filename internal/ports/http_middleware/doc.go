// Package http_middleware profiles the HTTP requests served by a handler. It
// opens a request scope for the query and HTTP collectors, checks the
// activation gate, and drives a RequestProfiler through the request.
//
// The middleware is designed to be used with the standard library's
// net/http package and any router built on http.Handler.
package http_middleware
