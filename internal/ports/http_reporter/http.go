package http_reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/profiling"
)

const (
	defaultListLimit = 50
	defaultTop       = 30
)

type runList struct {
	Namespace string           `json:"namespace"`
	Runs      []domain.RunInfo `json:"runs"`
}

type runSummary struct {
	ID        string             `json:"id"`
	Namespace string             `json:"namespace"`
	Profile   string             `json:"profile"`
	Wall      time.Duration      `json:"wall_ns"`
	Memory    domain.MemoryDelta `json:"memory"`
	Summary   *profiling.Summary `json:"summary"`
}

// NewHandler creates the profile viewer for runs stored in store. Runs are
// listed from defaultNamespace unless the request names a source.
//
//	GET ?source=ns&limit=n                 run list (JSON)
//	GET ?run=id&source=ns[&type=heap]      top functions (text, or JSON with format=json)
//	GET ?run=id&source=ns&format=raw       the pprof profile itself
func NewHandler(store domain.RunStore, defaultNamespace string, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		namespace := q.Get("source")
		if namespace == "" {
			namespace = defaultNamespace
		}

		id := q.Get("run")
		if id == "" {
			limit := intParam(q.Get("limit"), defaultListLimit)
			runs, err := store.ListRuns(r.Context(), namespace, limit)
			if err != nil {
				logger.Error().Err(err).Str("namespace", namespace).Msg("Failed to list runs")
				http.Error(w, "Failed to list runs", http.StatusInternalServerError)
				return
			}
			if runs == nil {
				runs = []domain.RunInfo{}
			}
			writeJSON(w, runList{Namespace: namespace, Runs: runs})
			return
		}

		graph, err := store.GetRun(r.Context(), id, namespace)
		if errors.Is(err, domain.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
			http.Error(w, "Failed to load run", http.StatusInternalServerError)
			return
		}

		kind, data := "cpu", graph.CPU
		if q.Get("type") == "heap" {
			kind, data = "heap", graph.Heap
		}
		if len(data) == 0 {
			http.Error(w, fmt.Sprintf("run has no %s profile", kind), http.StatusNotFound)
			return
		}

		if q.Get("format") == "raw" {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rawName(id, namespace, kind)))
			_, _ = w.Write(data)
			return
		}

		summary, err := profiling.Summarize(data, intParam(q.Get("top"), defaultTop))
		if err != nil {
			logger.Warn().Err(err).Str("run_id", id).Msg("Stored profile could not be summarized")
			http.Error(w, "Failed to read profile", http.StatusUnprocessableEntity)
			return
		}

		if q.Get("format") == "json" {
			writeJSON(w, runSummary{
				ID:        id,
				Namespace: namespace,
				Profile:   kind,
				Wall:      graph.Wall(),
				Memory:    graph.Memory,
				Summary:   summary,
			})
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Run: %s\nSource: %s\nProfile: %s\nWall: %s\nAllocated: %d bytes in %d objects\nGC cycles: %d\n\n",
			id, namespace, kind, graph.Wall(), graph.Memory.AllocBytes, graph.Memory.Mallocs, graph.Memory.GCCycles)
		if err := summary.WriteText(w); err != nil {
			logger.Debug().Err(err).Msg("Failed to write profile summary")
		}
	})
}

func rawName(id, namespace, kind string) string {
	if kind == "heap" {
		return id + "." + namespace + ".heap.pprof"
	}
	return id + "." + namespace + ".pprof"
}

func intParam(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// If encoding fails, it's a server-side problem.
		http.Error(w, "Failed to encode response to JSON", http.StatusInternalServerError)
	}
}
