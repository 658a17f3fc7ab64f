// Package apmhttp instruments net/http for request profiling. Middleware opens
// a per-request scope holding the query log, the outbound HTTP log and the late
// shutdown registry; Transport records the client calls made within it.
package apmhttp
