// Package http_reporter serves the profile viewer: the list of stored runs as
// JSON and, for one run, its top functions as text or JSON, or the raw pprof
// profile for go tool pprof.
//
// The package implements the standard http.Handler interface and is mounted
// under the configured relative path, which the profiler never profiles.
package http_reporter
