package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/latticerun/dispatcher/pkg/models"
)

// Registry is the process-wide mapping from executor short-name to a
// factory yielding an Executor instance, guarded the way the teacher's
// pkg/executor registry guards its map.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a short-name with a factory. A later call for the
// same short-name replaces the earlier one.
func (r *Registry) Register(shortName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[shortName] = factory
}

// Has reports whether a factory is registered for shortName.
func (r *Registry) Has(shortName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[shortName]
	return ok
}

// Unregister removes a factory.
func (r *Registry) Unregister(shortName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, shortName)
}

// List returns every registered short-name in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds an Executor instance for (shortName, config). This is the
// "Executor resolution failure" error-handling row of §7: callers (the Task
// Runner) must surface the error as the node's FAILED outcome, not a panic.
func (r *Registry) Resolve(shortName string, config map[string]any) (Executor, error) {
	r.mu.RLock()
	factory, ok := r.factories[shortName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrExecutorNotFound, shortName)
	}
	ex, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrExecutorNotResolvable, shortName, err)
	}
	return ex, nil
}
