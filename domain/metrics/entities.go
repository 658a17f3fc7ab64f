package metrics

import (
	"net/http"
	"time"
)

// Query is a single SQL statement executed while serving a request.
type Query struct {
	SQL      string        `json:"sql"`
	Duration time.Duration `json:"duration_ns"`
	Err      string        `json:"error,omitempty"`
}

// HTTPCall is a single outbound HTTP request made while serving a request.
type HTTPCall struct {
	Method        string        `json:"method"`
	URL           string        `json:"url"`
	StatusCode    int           `json:"status_code"`
	Duration      time.Duration `json:"duration_ns"`
	UploadBytes   int64         `json:"upload_bytes"`
	DownloadBytes int64         `json:"download_bytes"`
	Headers       http.Header   `json:"headers,omitempty"`
	Body          []byte        `json:"body,omitempty"`
	Err           string        `json:"error,omitempty"`
}

// TotalDuration sums the duration of calls.
func TotalDuration(calls []HTTPCall) time.Duration {
	var total time.Duration
	for _, c := range calls {
		total += c.Duration
	}
	return total
}
