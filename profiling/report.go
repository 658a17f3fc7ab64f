package profiling

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/google/pprof/profile"
)

// FunctionStat is the flat and cumulative value attributed to one function.
type FunctionStat struct {
	Name    string  `json:"name"`
	Flat    int64   `json:"flat"`
	Cum     int64   `json:"cum"`
	FlatPct float64 `json:"flat_pct"`
	CumPct  float64 `json:"cum_pct"`
}

// Summary ranks the functions of a stored profile.
type Summary struct {
	SampleType string         `json:"sample_type"`
	Unit       string         `json:"unit"`
	Total      int64          `json:"total"`
	Samples    int            `json:"samples"`
	Functions  []FunctionStat `json:"functions"`
}

// Summarize parses a pprof profile and returns the top functions by flat value.
// A top of zero or less keeps every function.
func Summarize(data []byte, top int) (*Summary, error) {
	if len(data) == 0 {
		return nil, errors.New("empty profile")
	}
	prof, err := profile.ParseData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pprof profile: %w", err)
	}
	if len(prof.SampleType) == 0 {
		return nil, errors.New("profile has no sample types")
	}

	idx := sampleIndex(prof)
	summary := &Summary{
		SampleType: prof.SampleType[idx].Type,
		Unit:       prof.SampleType[idx].Unit,
		Samples:    len(prof.Sample),
	}

	stats := make(map[string]*FunctionStat)
	stat := func(name string) *FunctionStat {
		s, ok := stats[name]
		if !ok {
			s = &FunctionStat{Name: name}
			stats[name] = s
		}
		return s
	}

	for _, sample := range prof.Sample {
		if idx >= len(sample.Value) {
			continue
		}
		v := sample.Value[idx]
		summary.Total += v

		seen := make(map[string]bool)
		for i, loc := range sample.Location {
			for j, line := range loc.Line {
				name := functionName(line)
				if i == 0 && j == 0 {
					stat(name).Flat += v
				}
				if !seen[name] {
					seen[name] = true
					stat(name).Cum += v
				}
			}
		}
	}

	for _, s := range stats {
		if summary.Total != 0 {
			s.FlatPct = 100 * float64(s.Flat) / float64(summary.Total)
			s.CumPct = 100 * float64(s.Cum) / float64(summary.Total)
		}
		summary.Functions = append(summary.Functions, *s)
	}
	sort.Slice(summary.Functions, func(i, j int) bool {
		a, b := summary.Functions[i], summary.Functions[j]
		if a.Flat != b.Flat {
			return a.Flat > b.Flat
		}
		if a.Cum != b.Cum {
			return a.Cum > b.Cum
		}
		return a.Name < b.Name
	})
	if top > 0 && len(summary.Functions) > top {
		summary.Functions = summary.Functions[:top]
	}
	return summary, nil
}

// WriteText renders the summary as an aligned table.
func (s *Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Type: %s (%s)\tTotal: %d\tSamples: %d\t\n", s.SampleType, s.Unit, s.Total, s.Samples)
	fmt.Fprintln(tw, "flat\tflat%\tcum\tcum%\t")
	for _, f := range s.Functions {
		fmt.Fprintf(tw, "%d\t%.2f%%\t%d\t%.2f%%\t  %s\n", f.Flat, f.FlatPct, f.Cum, f.CumPct, f.Name)
	}
	return tw.Flush()
}

// sampleIndex picks the profile's default sample type, or the last one.
// For CPU profiles that is cpu/nanoseconds, for allocs alloc_space/bytes.
func sampleIndex(prof *profile.Profile) int {
	if prof.DefaultSampleType != "" {
		for i, st := range prof.SampleType {
			if st.Type == prof.DefaultSampleType {
				return i
			}
		}
	}
	return len(prof.SampleType) - 1
}

func functionName(line profile.Line) string {
	if line.Function == nil || line.Function.Name == "" {
		return "<unknown>"
	}
	return line.Function.Name
}
