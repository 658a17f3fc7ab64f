package profiler

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/domain/metrics"
	"github.com/fllarpy/reqprof/internal/application/hooks"
	"github.com/fllarpy/reqprof/pkg/config"
)

func completed(t *testing.T, f *fixture, inv domain.Invocation) *RequestProfiler {
	t.Helper()
	p := f.start(t, inv)
	require.NoError(t, f.shutdown.Run(context.Background()))
	return p
}

func TestLogSlowQueries(t *testing.T) {
	f := newFixture(t)
	f.sources = domain.Sources{Queries: querySource{ok: true, queries: []metrics.Query{
		{SQL: "SELECT * FROM options", Duration: 50 * time.Millisecond},
		{SQL: "SELECT * FROM posts WHERE id = 1", Duration: 200 * time.Millisecond},
		{SQL: "SELECT * FROM users", Duration: 150 * time.Millisecond},
	}}}
	completed(t, f, cliInvocation)

	got := f.read(t, "run123_db.log")
	want := "[2024-05-01 10:00:01] xhprof id: run123, http://localhost:8080/xhprof/?run=run123&source=reqprof\n" +
		"Total query time: 0.4000 s\n" +
		"Total queries: 3\n" +
		"Queries skipped: 1 (< 0.1 s)\n" +
		"Shown queries 2\n" +
		separator +
		"[0.2000 s] SELECT * FROM posts WHERE id = 1\n" + separator +
		"[0.1500 s] SELECT * FROM users\n" + separator
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "FROM options")
}

func TestLogSlowQueries_ThresholdIsInclusive(t *testing.T) {
	f := newFixture(t)
	f.sources = domain.Sources{Queries: querySource{ok: true, queries: []metrics.Query{
		{SQL: "SELECT 1", Duration: 100 * time.Millisecond},
	}}}
	completed(t, f, cliInvocation)

	assert.Contains(t, f.read(t, "run123_db.log"), "[0.1000 s] SELECT 1\n")
}

func TestLogSlowQueries_NothingShown(t *testing.T) {
	testCases := []struct {
		name    string
		queries []metrics.Query
	}{
		{"empty query list", nil},
		{"all queries below threshold", []metrics.Query{{SQL: "SELECT 1", Duration: time.Millisecond}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name+" skip", func(t *testing.T) {
			f := newFixture(t)
			f.sources = domain.Sources{Queries: querySource{ok: true, queries: tc.queries}}
			completed(t, f, cliInvocation)

			assert.False(t, f.exists("run123_db.log"))
			assert.True(t, f.exists(RequestLogName))
		})

		t.Run(tc.name+" write", func(t *testing.T) {
			f := newFixture(t)
			f.cfg.EmptyLogs = config.EmptyLogsWrite
			f.sources = domain.Sources{Queries: querySource{ok: true, queries: tc.queries}}
			completed(t, f, cliInvocation)

			got := f.read(t, "run123_db.log")
			assert.True(t, strings.HasPrefix(got, "[2024-05-01 10:00:01] xhprof id: run123, "))
			assert.True(t, strings.HasSuffix(got, separator+"No queries took longer than 0.1 seconds.\n"))
			assert.Equal(t, 1, strings.Count(got, separator))
		})
	}
}

func TestLogSlowQueries_SourceMissing(t *testing.T) {
	testCases := []struct {
		name    string
		sources domain.Sources
	}{
		{"no query log", domain.Sources{}},
		{"query log not enumerable", domain.Sources{Queries: querySource{ok: false}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.cfg.EmptyLogs = config.EmptyLogsWrite
			f.sources = tc.sources
			completed(t, f, cliInvocation)

			assert.False(t, f.exists("run123_db.log"))
			assert.True(t, f.exists(RequestLogName))
		})
	}
}

func TestLogSlowQueries_Suffix(t *testing.T) {
	f := newFixture(t)
	f.cfg.DBLogSuffix = ".queries"
	f.sources = domain.Sources{Queries: querySource{ok: true, queries: []metrics.Query{
		{SQL: "SELECT SLEEP(1)", Duration: time.Second},
	}}}
	completed(t, f, cliInvocation)

	assert.Contains(t, f.read(t, "run123.queries"), "[1.0000 s] SELECT SLEEP(1)")
}

func TestLogSlowQueries_WarnsOnRepeatedStatements(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t)
	f.logger = zerolog.New(&buf)
	f.cfg.RepeatedQueryThreshold = 3

	var queries []metrics.Query
	for i := 0; i < 4; i++ {
		queries = append(queries, metrics.Query{SQL: "SELECT * FROM postmeta WHERE post_id = ?", Duration: time.Millisecond})
	}
	queries = append(queries, metrics.Query{SQL: "SELECT * FROM posts", Duration: time.Millisecond})
	f.sources = domain.Sources{Queries: querySource{ok: true, queries: queries}}
	completed(t, f, cliInvocation)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Statement repeated within one request"))
	assert.Contains(t, out, `"statement":"SELECT * FROM postmeta WHERE post_id = ?"`)
	assert.Contains(t, out, `"count":4`)
	assert.Contains(t, out, `"run_id":"run123"`)
}

func TestLogHTTPRequests(t *testing.T) {
	f := newFixture(t)
	f.sources = domain.Sources{HTTP: httpSource{ok: true, calls: []metrics.HTTPCall{
		{
			Method:        http.MethodPost,
			URL:           "https://api.example.com/v1/orders",
			StatusCode:    http.StatusCreated,
			Duration:      250 * time.Millisecond,
			UploadBytes:   2048,
			DownloadBytes: 512,
			Headers:       http.Header{"Content-Type": {"application/json"}, "Accept": {"text/plain", "application/json"}},
			Body:          []byte(`{"sku":"A1"}`),
		},
		{
			Method:   http.MethodGet,
			URL:      "https://unreachable.invalid/",
			Duration: 50 * time.Millisecond,
			Err:      "dial tcp: lookup unreachable.invalid: no such host",
		},
	}}}
	completed(t, f, cliInvocation)

	want := "[2024-05-01 10:00:01] xhprof id: run123, http://localhost:8080/xhprof/?run=run123&source=reqprof\n" +
		"Total http requests time: 0.3000 s\n" +
		"Total http requests: 2\n" +
		separator +
		"[0.2500 s] POST 201 https://api.example.com/v1/orders (2.0 kb ↑, 0.5 kb ↓)\n" +
		"Headers:\n" +
		"    Accept: text/plain, application/json\n" +
		"    Content-Type: application/json\n" +
		"Body: {\"sku\":\"A1\"}\n" +
		separator +
		"[0.0500 s] GET 0 https://unreachable.invalid/ (0.0 kb ↑, 0.0 kb ↓)\n" +
		"Error: dial tcp: lookup unreachable.invalid: no such host\n" +
		"Headers: none\n" +
		"Body: none\n" +
		separator
	assert.Equal(t, want, f.read(t, "run123_http.log"))
}

func TestLogHTTPRequests_Empty(t *testing.T) {
	t.Run("skip", func(t *testing.T) {
		f := newFixture(t)
		f.sources = domain.Sources{HTTP: httpSource{ok: true}}
		completed(t, f, cliInvocation)
		assert.False(t, f.exists("run123_http.log"))
	})

	t.Run("write", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.EmptyLogs = config.EmptyLogsWrite
		f.sources = domain.Sources{HTTP: httpSource{ok: true}}
		completed(t, f, cliInvocation)

		got := f.read(t, "run123_http.log")
		assert.Contains(t, got, "Total http requests: 0\n")
		assert.True(t, strings.HasSuffix(got, "Total http requests: 0\n"+separator))
	})

	t.Run("no data", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.EmptyLogs = config.EmptyLogsWrite
		f.sources = domain.Sources{HTTP: httpSource{ok: false}}
		completed(t, f, cliInvocation)
		assert.False(t, f.exists("run123_http.log"))
	})
}

func TestWriteLog_AppendsEveryCall(t *testing.T) {
	f := newFixture(t)
	p := completed(t, f, cliInvocation)

	require.NoError(t, p.writeLog(".custom", "body\n", "intro\n"))
	require.NoError(t, p.writeLog(".custom", "body\n", "intro\n"))
	assert.Equal(t, "intro\nbody\nintro\nbody\n", f.read(t, "run123.custom"))
}

func TestWriteLog_EmptyPolicy(t *testing.T) {
	f := newFixture(t)
	p := completed(t, f, cliInvocation)

	require.NoError(t, p.writeLog(".empty", "", "intro\n"))
	assert.False(t, f.exists("run123.empty"))

	f.cfg.EmptyLogs = config.EmptyLogsWrite
	require.NoError(t, p.writeLog(".empty", "", "intro\n"))
	assert.Equal(t, "intro\n", f.read(t, "run123.empty"))
}

func TestLogRequest_WriteFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.LogLocation = "/dev/null/not-a-directory"
	p := f.start(t, cliInvocation)

	assert.Error(t, p.Complete(context.Background()))
}

func TestReferrer(t *testing.T) {
	testCases := []struct {
		name string
		inv  domain.Invocation
		want string
	}{
		{"same origin", domain.Invocation{Scheme: "https", Host: "example.com", Referrer: "https://example.com/foo"}, "/foo"},
		{"same origin root", domain.Invocation{Scheme: "https", Host: "example.com", Referrer: "https://example.com/"}, "/"},
		{"external", domain.Invocation{Scheme: "https", Host: "example.com", Referrer: "https://other.org/foo"}, "https://other.org/foo"},
		{"scheme mismatch", domain.Invocation{Scheme: "http", Host: "example.com", Referrer: "https://example.com/foo"}, "https://example.com/foo"},
		{"missing", domain.Invocation{Scheme: "https", Host: "example.com"}, "none"},
		{"cli", domain.Invocation{CLI: true, Referrer: "https://example.com/foo"}, "none"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, referrer(tc.inv))
		})
	}
}

func TestRequestType(t *testing.T) {
	testCases := []struct {
		name string
		inv  domain.Invocation
		want string
	}{
		{"cli", domain.Invocation{CLI: true}, "CLI"},
		{"get", domain.Invocation{Method: http.MethodGet}, "GET"},
		{"missing", domain.Invocation{}, "none"},
		{"post", domain.Invocation{Method: http.MethodPost, FormVars: 2, BodyBytes: 1536}, "POST(2 vars, 1.5 kb)"},
		{"put", domain.Invocation{Method: http.MethodPut, BodyBytes: 100}, "PUT(0 vars, 0.1 kb)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, requestType(tc.inv))
		})
	}
}

func TestProfilerURL(t *testing.T) {
	f := newFixture(t)
	f.cfg.RelativePath = "/profiles/"

	cli := completed(t, f, cliInvocation)
	assert.Equal(t, "http://localhost:8080/profiles/?run=run123&source=reqprof", cli.ProfilerURL())

	f.shutdown = hooks.NewShutdown()
	web := completed(t, f, domain.Invocation{Method: http.MethodGet, Scheme: "http", Host: "shop.test:8080", URI: "/"})
	assert.Equal(t, "http://shop.test:8080/profiles/?run=run123&source=reqprof", web.ProfilerURL())
}

func TestLogRequest_HTTPPost(t *testing.T) {
	f := newFixture(t)
	completed(t, f, domain.Invocation{
		Method:    http.MethodPost,
		URI:       "/wp-admin/admin-ajax.php",
		Scheme:    "http",
		Host:      "localhost",
		FormVars:  3,
		BodyBytes: 2048,
	})

	assert.Contains(t, f.read(t, RequestLogName),
		"| URI: /wp-admin/admin-ajax.php | POST(3 vars, 2.0 kb) | Referrer: none\n")
}
