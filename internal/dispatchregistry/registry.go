// Package dispatchregistry implements the process-wide Dispatch Registry:
// a mapping dispatch_id -> handle-to-terminal-Result used by sublattice
// nodes to await their sub-dispatch's completion. Per the design notes
// (§9), this is an explicit collaborator passed into the dispatcher rather
// than ambient global state.
package dispatchregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/latticerun/dispatcher/pkg/models"
	"github.com/latticerun/dispatcher/pkg/result"
)

// entry is a handle to an in-flight or completed dispatch: a channel that
// is closed exactly once, when the dispatch reaches a terminal status.
type entry struct {
	done   chan struct{}
	once   sync.Once
	result *result.Result
}

// Registry tracks in-flight dispatches by id, insert-on-submit /
// lookup-and-await / remove-on-terminal, as a single process-wide instance
// shared by every Scheduler and Task Runner in the process.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty dispatch registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Insert registers a dispatch_id as in-flight, associated with the Result
// the scheduler is mutating. Called once, at submission time.
func (r *Registry) Insert(dispatchID string, res *result.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[dispatchID]; exists {
		return fmt.Errorf("%w: %s", models.ErrRegistryEntryExists, dispatchID)
	}
	r.entries[dispatchID] = &entry{done: make(chan struct{}), result: res}
	return nil
}

// MarkTerminal signals that dispatchID has reached a terminal status,
// releasing any goroutine blocked in Await. Safe to call more than once.
func (r *Registry) MarkTerminal(dispatchID string) {
	r.mu.RLock()
	e, ok := r.entries[dispatchID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.once.Do(func() { close(e.done) })
}

// Await blocks until dispatchID reaches a terminal status (or ctx is
// cancelled), then returns its Result. This is the suspension point a
// sublattice node's Task Runner call sits at while awaiting the inner
// future for its sub-dispatch (§5, suspension point (b)).
func (r *Registry) Await(ctx context.Context, dispatchID string) (*result.Result, error) {
	r.mu.RLock()
	e, ok := r.entries[dispatchID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRegistryEntryNotFound, dispatchID)
	}

	select {
	case <-e.done:
		return e.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Remove discards the entry for dispatchID once its terminal Result has
// been observed by every awaiter that needed it.
func (r *Registry) Remove(dispatchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, dispatchID)
}
