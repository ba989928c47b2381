package executor

import (
	"sync"

	"github.com/latticerun/dispatcher/pkg/deps"
)

// MapCallableRegistry is the default in-process CallableRegistry: a
// sync.RWMutex-guarded map from registered name to Go function, the
// Go-idiomatic analogue of the arbitrary closures covalent's local
// executor pickles and ships around.
type MapCallableRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Callable
}

// NewMapCallableRegistry returns an empty callable registry.
func NewMapCallableRegistry() *MapCallableRegistry {
	return &MapCallableRegistry{funcs: make(map[string]Callable)}
}

func (r *MapCallableRegistry) Register(name string, fn Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

func (r *MapCallableRegistry) Lookup(name string) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// depsRegistryAdapter presents a MapCallableRegistry as a deps.CallableRegistry.
// The two interfaces are structurally identical but declared in different
// packages (deps cannot import executor without a cycle), so Lookup's
// result type needs converting from the named Callable type to the plain
// func type deps.CallableRegistry declares.
type depsRegistryAdapter struct {
	reg *MapCallableRegistry
}

func (a depsRegistryAdapter) Lookup(name string) (func(args []any, kwargs map[string]any) (any, error), bool) {
	fn, ok := a.reg.Lookup(name)
	if !ok {
		return nil, false
	}
	return fn, true
}

// AsDepsRegistry adapts r for use wherever a deps.CallableRegistry is
// required (the Wave Scheduler's dependency-bundle rehydration).
func (r *MapCallableRegistry) AsDepsRegistry() deps.CallableRegistry {
	return depsRegistryAdapter{reg: r}
}
