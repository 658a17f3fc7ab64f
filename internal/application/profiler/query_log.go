package profiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/domain/metrics"
	"github.com/fllarpy/reqprof/nplusone"
)

var separator = strings.Repeat("-", 68) + "\n"

// logSlowQueries writes the queries that took at least MinQueryTime to the
// run's database log. Faster queries only count towards the totals.
func (p *RequestProfiler) logSlowQueries(src domain.QueryLogSource) error {
	if src == nil {
		return nil
	}
	queries, ok := src.Queries()
	if !ok {
		return nil
	}
	p.warnRepeated(queries)

	var (
		totalSeconds float64
		skipped      int
		body         strings.Builder
	)
	for _, q := range queries {
		seconds := q.Duration.Seconds()
		totalSeconds += seconds
		if seconds < p.cfg.MinQueryTime {
			skipped++
			continue
		}
		fmt.Fprintf(&body, "[%.4f s] %s\n%s", seconds, q.SQL, separator)
	}

	threshold := strconv.FormatFloat(p.cfg.MinQueryTime, 'f', -1, 64)
	content := body.String()
	if content == "" && !p.cfg.SkipEmptyLogs() {
		content = fmt.Sprintf("No queries took longer than %s seconds.\n", threshold)
	}

	intro := fmt.Sprintf(
		"[%s] xhprof id: %s, %s\nTotal query time: %.4f s\nTotal queries: %d\nQueries skipped: %d (< %s s)\nShown queries %d\n%s",
		p.now().Format(dateTimeLayout),
		p.RunID(),
		p.ProfilerURL(),
		totalSeconds,
		len(queries),
		skipped,
		threshold,
		len(queries)-skipped,
		separator,
	)
	return p.writeLog(p.cfg.DBLogSuffix, content, intro)
}

func (p *RequestProfiler) warnRepeated(queries []metrics.Query) {
	detector := nplusone.Detector{Threshold: p.cfg.RepeatedQueryThreshold}
	for _, f := range detector.Detect(queries) {
		p.logger.Warn().
			Str("run_id", p.RunID()).
			Str("statement", f.Statement).
			Int("count", f.Count).
			Dur("total", f.Total).
			Msg("Statement repeated within one request")
	}
}
