package apmhttp

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/fllarpy/reqprof/domain/metrics"
)

// Transport is an http.RoundTripper that records every request made with a
// context carrying an HTTPLog.
type Transport struct {
	// Base is the underlying RoundTripper to execute the request.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// BodyLimit caps the request body bytes kept per call. Zero keeps none.
	BodyLimit int64
}

// NewAPMTransport creates a new Transport.
func NewAPMTransport(base http.RoundTripper, bodyLimit int64) *Transport {
	return &Transport{Base: base, BodyLimit: bodyLimit}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the request `req`.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	log := HTTPLogFromContext(req.Context())
	if log == nil {
		return base.RoundTrip(req)
	}

	call := metrics.HTTPCall{
		Method:      req.Method,
		URL:         req.URL.String(),
		Headers:     req.Header.Clone(),
		UploadBytes: req.ContentLength,
	}
	if call.Method == "" {
		call.Method = http.MethodGet
	}

	req, body, size, err := t.captureBody(req)
	if err != nil {
		return nil, err
	}
	call.Body = body
	if call.UploadBytes <= 0 {
		call.UploadBytes = size
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	call.Duration = time.Since(start)

	if err != nil {
		call.Err = err.Error()
		log.Record(call)
		return nil, err
	}

	call.StatusCode = resp.StatusCode
	if resp.ContentLength > 0 {
		call.DownloadBytes = resp.ContentLength
	}
	i := log.Record(call)
	if resp.ContentLength < 0 && resp.Body != nil {
		resp.Body = &countingBody{ReadCloser: resp.Body, add: func(n int64) { log.addDownload(i, n) }}
	}
	return resp, nil
}

// captureBody returns a copy of at most BodyLimit bytes of the request body
// and, when it had to be read, the full body size. A body that cannot be
// re-read is consumed and req is replaced by a clone with a fresh body.
func (t *Transport) captureBody(req *http.Request) (*http.Request, []byte, int64, error) {
	if req.Body == nil || req.Body == http.NoBody || t.BodyLimit <= 0 {
		return req, nil, 0, nil
	}

	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return req, nil, 0, nil
		}
		defer rc.Close()
		body, _ := io.ReadAll(io.LimitReader(rc, t.BodyLimit))
		return req, body, int64(len(body)), nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, nil, 0, err
	}
	size := int64(len(data))
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(data))
	clone.ContentLength = size
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if int64(len(data)) > t.BodyLimit {
		data = data[:t.BodyLimit]
	}
	return clone, bytes.Clone(data), size, nil
}

// countingBody reports bytes read from a response body of unknown length.
type countingBody struct {
	io.ReadCloser
	add func(n int64)
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.add(int64(n))
	}
	return n, err
}
