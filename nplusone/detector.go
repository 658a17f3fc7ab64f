// Package nplusone finds statements a single request runs over and over,
// the usual sign of a query issued from inside a loop.
package nplusone

import (
	"sort"
	"time"

	"github.com/fllarpy/reqprof/domain/metrics"
)

// Finding is one statement repeated at least Threshold times.
type Finding struct {
	Statement string
	Count     int
	Total     time.Duration
}

// Detector reports repeated statements. A Threshold below 2 disables it.
type Detector struct {
	Threshold int
}

type queryInfo struct {
	count int
	total time.Duration
	first int
}

// Detect returns the statements of queries repeated at least Threshold
// times, most repeated first, ties in order of first execution.
func (d Detector) Detect(queries []metrics.Query) []Finding {
	if d.Threshold < 2 || len(queries) < d.Threshold {
		return nil
	}

	seen := make(map[string]*queryInfo)
	for i, q := range queries {
		if q.SQL == "" {
			continue
		}
		info, ok := seen[q.SQL]
		if !ok {
			info = &queryInfo{first: i}
			seen[q.SQL] = info
		}
		info.count++
		info.total += q.Duration
	}

	type ranked struct {
		Finding
		first int
	}
	var found []ranked
	for stmt, info := range seen {
		if info.count >= d.Threshold {
			found = append(found, ranked{Finding{Statement: stmt, Count: info.count, Total: info.total}, info.first})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Count != found[j].Count {
			return found[i].Count > found[j].Count
		}
		return found[i].first < found[j].first
	})

	findings := make([]Finding, len(found))
	for i, f := range found {
		findings[i] = f.Finding
	}
	return findings
}
