// Package hooks provides the two shutdown mechanisms a profiled request runs
// under: the process-level shutdown list and the host framework's late,
// priority-ordered shutdown phase.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fllarpy/reqprof/domain"
)

var (
	_ domain.ShutdownRegistrar = (*Shutdown)(nil)
	_ domain.HookRegistry      = (*Registry)(nil)
)

// Shutdown runs registered callbacks once, in registration order.
type Shutdown struct {
	mu  sync.Mutex
	fns []func(ctx context.Context) error
	ran bool
}

// NewShutdown returns an empty shutdown list.
func NewShutdown() *Shutdown {
	return &Shutdown{}
}

// Register adds fn to the list. Callbacks registered after Run are ignored.
func (s *Shutdown) Register(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ran {
		return
	}
	s.fns = append(s.fns, fn)
}

// Run executes every callback. A failing or panicking callback does not stop the rest.
func (s *Shutdown) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil
	}
	s.ran = true
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		errs = append(errs, call(ctx, fn))
	}
	return errors.Join(errs...)
}

// DefaultPriority is used by hosts when a caller does not care about ordering.
const DefaultPriority = 10

type action struct {
	priority int
	seq      int
	fn       func(ctx context.Context) error
}

// Registry is a late shutdown phase with priority ordering. Lower priorities run
// first; equal priorities run in the order they were added. Actions added while
// the registry runs are executed in the same pass.
type Registry struct {
	mu      sync.Mutex
	pending []action
	seq     int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddAction registers fn at priority.
func (r *Registry) AddAction(priority int, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.pending = append(r.pending, action{priority: priority, seq: r.seq, fn: fn})
}

// Len returns the number of actions still waiting to run.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run executes pending actions until none are left.
func (r *Registry) Run(ctx context.Context) error {
	var errs []error
	for {
		next, ok := r.next()
		if !ok {
			return errors.Join(errs...)
		}
		errs = append(errs, call(ctx, next.fn))
	}
}

func (r *Registry) next() (action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return action{}, false
	}
	best := 0
	for i, a := range r.pending[1:] {
		b := r.pending[best]
		if a.priority < b.priority || (a.priority == b.priority && a.seq < b.seq) {
			best = i + 1
		}
	}
	a := r.pending[best]
	r.pending = append(r.pending[:best], r.pending[best+1:]...)
	return a, true
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("shutdown hook panicked: %v", rec)
		}
	}()
	return fn(ctx)
}
