package profiler

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/fllarpy/reqprof/domain"
)

// logHTTPRequests writes every outbound call of the request to the run's HTTP log.
func (p *RequestProfiler) logHTTPRequests(src domain.HTTPCollectorSource) error {
	if src == nil {
		return nil
	}
	calls, ok := src.HTTPCalls()
	if !ok {
		return nil
	}

	var body strings.Builder
	for _, c := range calls {
		fmt.Fprintf(&body, "[%.4f s] %s %d %s (%.1f kb ↑, %.1f kb ↓)\n",
			c.Duration.Seconds(),
			c.Method,
			c.StatusCode,
			c.URL,
			float64(c.UploadBytes)/1024,
			float64(c.DownloadBytes)/1024,
		)
		if c.Err != "" {
			fmt.Fprintf(&body, "Error: %s\n", c.Err)
		}
		body.WriteString(formatHeaders(c.Headers))
		fmt.Fprintf(&body, "Body: %s\n%s", formatBody(c.Body), separator)
	}

	intro := fmt.Sprintf(
		"[%s] xhprof id: %s, %s\nTotal http requests time: %.4f s\nTotal http requests: %d\n%s",
		p.now().Format(dateTimeLayout),
		p.RunID(),
		p.ProfilerURL(),
		src.TotalTime().Seconds(),
		len(calls),
		separator,
	)
	return p.writeLog(p.cfg.HTTPLogSuffix, body.String(), intro)
}

func formatHeaders(h http.Header) string {
	if len(h) == 0 {
		return "Headers: none\n"
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Headers:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "    %s: %s\n", name, strings.Join(h[name], ", "))
	}
	return b.String()
}

func formatBody(body []byte) string {
	if len(body) == 0 {
		return "none"
	}
	return string(body)
}
