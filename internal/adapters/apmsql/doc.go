// Package apmsql wraps database/sql drivers so that every statement executed
// with a request context is recorded in that request's QueryLog.
package apmsql
