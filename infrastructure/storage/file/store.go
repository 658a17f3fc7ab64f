// Package file stores runs as pprof files in a directory, one set per run:
// {id}.{namespace}.pprof, {id}.{namespace}.heap.pprof and {id}.{namespace}.json.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fllarpy/reqprof/domain"
)

var _ domain.RunStore = (*Store)(nil)

type meta struct {
	Info  domain.RunInfo    `json:"info"`
	Graph *domain.CallGraph `json:"graph"`
}

// Store keeps runs in a directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates dir if needed and returns a store writing into it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id, namespace, ext string) string {
	return filepath.Join(s.dir, id+"."+namespace+ext)
}

// validName rejects values that would escape the runs directory.
func validName(v string) bool {
	return v != "" && !strings.ContainsAny(v, `/\.`)
}

// SaveRun writes the profiles first and the metadata last, so a listed run
// always has its profiles on disk.
func (s *Store) SaveRun(ctx context.Context, data *domain.CallGraph, namespace string) (string, error) {
	if !validName(namespace) {
		return "", fmt.Errorf("file store: invalid namespace %q", namespace)
	}
	id := domain.NewRunID()

	if err := os.WriteFile(s.path(id, namespace, ".pprof"), data.CPU, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cpu profile: %w", err)
	}
	if len(data.Heap) > 0 {
		if err := os.WriteFile(s.path(id, namespace, ".heap.pprof"), data.Heap, 0o644); err != nil {
			return "", fmt.Errorf("failed to write heap profile: %w", err)
		}
	}

	m := meta{
		Info: domain.RunInfo{
			ID:        id,
			Namespace: namespace,
			CreatedAt: s.now(),
			Wall:      data.Wall(),
			HasHeap:   len(data.Heap) > 0,
		},
		Graph: data,
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode run metadata: %w", err)
	}
	if err := os.WriteFile(s.path(id, namespace, ".json"), b, 0o644); err != nil {
		return "", fmt.Errorf("failed to write run metadata: %w", err)
	}
	return id, nil
}

// GetRun reads a run back.
func (s *Store) GetRun(ctx context.Context, id, namespace string) (*domain.CallGraph, error) {
	if !validName(id) || !validName(namespace) {
		return nil, domain.ErrRunNotFound
	}
	m, err := s.readMeta(s.path(id, namespace, ".json"))
	if err != nil {
		return nil, err
	}

	g := m.Graph
	if g == nil {
		g = &domain.CallGraph{}
	}
	if g.CPU, err = os.ReadFile(s.path(id, namespace, ".pprof")); err != nil {
		return nil, fmt.Errorf("failed to read cpu profile: %w", err)
	}
	if m.Info.HasHeap {
		if g.Heap, err = os.ReadFile(s.path(id, namespace, ".heap.pprof")); err != nil {
			return nil, fmt.Errorf("failed to read heap profile: %w", err)
		}
	}
	return g, nil
}

// ListRuns returns the newest runs of namespace first. A non-positive limit lists all.
func (s *Store) ListRuns(ctx context.Context, namespace string, limit int) ([]domain.RunInfo, error) {
	if !validName(namespace) {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, "*."+namespace+".json"))
	if err != nil {
		return nil, err
	}

	runs := make([]domain.RunInfo, 0, len(paths))
	for _, p := range paths {
		m, err := s.readMeta(p)
		if err != nil {
			continue
		}
		runs = append(runs, m.Info)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) readMeta(path string) (*meta, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run metadata: %w", err)
	}
	var m meta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode run metadata %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}
