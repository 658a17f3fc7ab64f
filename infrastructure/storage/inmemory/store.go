package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/fllarpy/reqprof/domain"
)

// DefaultCapacity is the number of runs kept when NewStore gets a non-positive size.
const DefaultCapacity = 100

var _ domain.RunStore = (*Store)(nil)

type run struct {
	info  domain.RunInfo
	graph domain.CallGraph
}

// Store is a thread-safe in-memory run store. Once full it overwrites the
// oldest run.
type Store struct {
	mu   sync.RWMutex
	runs *ringBuffer[run]
	now  func() time.Time
}

// NewStore creates a store holding at most capacity runs.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		runs: newRingBuffer[run](capacity),
		now:  time.Now,
	}
}

// SaveRun stores a copy of data and returns its new id.
func (s *Store) SaveRun(ctx context.Context, data *domain.CallGraph, namespace string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := run{
		info: domain.RunInfo{
			ID:        domain.NewRunID(),
			Namespace: namespace,
			CreatedAt: s.now(),
			Wall:      data.Wall(),
			HasHeap:   len(data.Heap) > 0,
		},
		graph: cloneGraph(data),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs.add(r)
	return r.info.ID, nil
}

// GetRun returns a copy of the run.
func (s *Store) GetRun(ctx context.Context, id, namespace string) (*domain.CallGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs.getAll() {
		if r.info.ID == id && r.info.Namespace == namespace {
			g := cloneGraph(&r.graph)
			return &g, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

// ListRuns returns the newest runs of namespace first. A non-positive limit lists all.
func (s *Store) ListRuns(ctx context.Context, namespace string, limit int) ([]domain.RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.runs.getAll()
	var out []domain.RunInfo
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].info.Namespace != namespace {
			continue
		}
		out = append(out, all[i].info)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneGraph(g *domain.CallGraph) domain.CallGraph {
	c := *g
	c.CPU = append([]byte(nil), g.CPU...)
	c.Heap = append([]byte(nil), g.Heap...)
	return c
}

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

// newRingBuffer creates a new ring buffer of a given size.
func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(item T) {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

// getAll returns all elements in the buffer, oldest first.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
