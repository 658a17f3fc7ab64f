package nplusone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fllarpy/reqprof/domain/metrics"
)

func queries(stmts ...string) []metrics.Query {
	out := make([]metrics.Query, len(stmts))
	for i, s := range stmts {
		out[i] = metrics.Query{SQL: s, Duration: time.Millisecond}
	}
	return out
}

func TestDetector_Detect(t *testing.T) {
	const byID = "SELECT * FROM users WHERE id = ?"
	const posts = "SELECT * FROM posts"
	const meta = "SELECT * FROM postmeta WHERE post_id = ?"

	testCases := []struct {
		name      string
		threshold int
		queries   []metrics.Query
		want      []Finding
	}{
		{
			name:      "below threshold",
			threshold: 3,
			queries:   queries(byID, byID, posts),
		},
		{
			name:      "at threshold",
			threshold: 3,
			queries:   queries(posts, byID, byID, byID),
			want:      []Finding{{Statement: byID, Count: 3, Total: 3 * time.Millisecond}},
		},
		{
			name:      "most repeated first",
			threshold: 2,
			queries:   queries(meta, byID, meta, byID, byID, posts),
			want: []Finding{
				{Statement: byID, Count: 3, Total: 3 * time.Millisecond},
				{Statement: meta, Count: 2, Total: 2 * time.Millisecond},
			},
		},
		{
			name:      "ties keep execution order",
			threshold: 2,
			queries:   queries(posts, meta, meta, posts),
			want: []Finding{
				{Statement: posts, Count: 2, Total: 2 * time.Millisecond},
				{Statement: meta, Count: 2, Total: 2 * time.Millisecond},
			},
		},
		{
			name:      "disabled",
			threshold: 0,
			queries:   queries(byID, byID, byID),
		},
		{
			name:      "empty statements ignored",
			threshold: 2,
			queries:   queries("", "", ""),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detector{Threshold: tc.threshold}.Detect(tc.queries)
			assert.Equal(t, tc.want, got)
		})
	}
}
