// Package executor implements the dispatcher's executor abstraction: a
// process-wide registry of short-name -> factory, and the concrete
// isolation-strategy variants (local thread, subprocess remote worker,
// container runtime) that all satisfy one invocation contract.
package executor

import (
	"context"
	"fmt"

	"github.com/latticerun/dispatcher/pkg/deps"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// ClientExecutorName is the sentinel short-name meaning "do not run here".
// The dispatcher treats a workflow whose post-process executor is "client"
// as pending-client-postprocess and terminates the dispatch in that state
// instead of resolving an Executor for it.
const ClientExecutorName = "client"

// Hook is one rehydrated call_before/call_after dependency: the full
// (callable, args, kwargs) triple a deps.Bundle applies into, not just its
// bare function name. A shell or package dependency bundle still reaches
// here as a Hook carrying the deps sentinel function name and its one
// payload arg.
type Hook struct {
	Function transportable.Transportable
	Args     []transportable.Transportable
	Kwargs   map[string]transportable.Transportable
}

// Request bundles everything an Executor needs to run one invocation. All
// of Function, each Args/Kwargs value, and each CallBefore/CallAfter hook's
// Function/Args/Kwargs are transportables; materializing them is the
// Executor's job.
type Request struct {
	Function   transportable.Transportable
	Args       []transportable.Transportable
	Kwargs     map[string]transportable.Transportable
	CallBefore []Hook
	CallAfter  []Hook
	DispatchID string
	ResultsDir string
	NodeID     int
}

// Response is the packaged result of a successful invocation.
type Response struct {
	Output transportable.Transportable
	Stdout string
	Stderr string
}

// Executor is the single contract every isolation strategy satisfies:
// materialize the transportables inside its chosen context, run
// CallBefore in order, invoke the function, run CallAfter in order,
// capture stdout/stderr, and return the output wrapped as a transportable.
// Any exception inside the call is returned as an error, never panics
// across this boundary.
type Executor interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// Factory builds an Executor instance from a per-node config dict (the
// selected_executor's config-dict, applied at resolution time).
type Factory func(config map[string]any) (Executor, error)

// Func adapts a plain function to the Executor interface, mirroring the
// teacher's ExecutorFunc adapter for the node-executor world.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// CallableRegistry resolves a callable name (the decoded payload of a
// Request.Function transportable whose content type is string) to a Go
// function the "local" executor can invoke directly, standing in for the
// arbitrary closures covalent's Python executors accept.
type CallableRegistry interface {
	Lookup(name string) (Callable, bool)
	Register(name string, fn Callable)
}

// Callable is the Go-native shape a registered task function takes.
type Callable func(args []any, kwargs map[string]any) (any, error)

// materializeCall decodes a Request's function/args/kwargs into host values,
// shared by every executor variant that runs in-process or needs the
// decoded call to hand to a subprocess/container payload.
func materializeCall(req Request) (fnName string, args []any, kwargs map[string]any, err error) {
	if err := transportable.Materialize(req.Function, &fnName); err != nil {
		return "", nil, nil, fmt.Errorf("materialize function name: %w", err)
	}
	args, kwargs, err = materializeArgsKwargs(req.Args, req.Kwargs)
	if err != nil {
		return "", nil, nil, err
	}
	return fnName, args, kwargs, nil
}

// materializeArgsKwargs decodes a transportable args slice/kwargs map into
// host values, shared by the primary call path and the hook path below.
func materializeArgsKwargs(rawArgs []transportable.Transportable, rawKwargs map[string]transportable.Transportable) (args []any, kwargs map[string]any, err error) {
	args = make([]any, 0, len(rawArgs))
	for i, a := range rawArgs {
		v, err := transportable.MaterializeAny(a)
		if err != nil {
			return nil, nil, fmt.Errorf("materialize arg %d: %w", i, err)
		}
		args = append(args, v)
	}
	kwargs = make(map[string]any, len(rawKwargs))
	for k, a := range rawKwargs {
		v, err := transportable.MaterializeAny(a)
		if err != nil {
			return nil, nil, fmt.Errorf("materialize kwarg %q: %w", k, err)
		}
		kwargs[k] = v
	}
	return args, kwargs, nil
}

// runHooks runs each call_before/call_after Hook in order, in the caller's
// own process. A hook whose function is one of the deps sentinel names runs
// the same way the primary-function path does (RunShellCommands or a
// package-install no-op); any other hook resolves against registry and is
// invoked with its own materialized args/kwargs. registry may be nil only
// if every hook is a sentinel.
func runHooks(hooks []Hook, registry CallableRegistry) error {
	for i, h := range hooks {
		var name string
		if err := transportable.Materialize(h.Function, &name); err != nil {
			return fmt.Errorf("hook %d: %w", i, err)
		}

		switch name {
		case deps.SentinelRunShellName:
			if len(h.Args) != 1 {
				return fmt.Errorf("hook %d: shell dep expected 1 arg, got %d", i, len(h.Args))
			}
			if _, _, err := deps.RunShellCommands(h.Args[0]); err != nil {
				return fmt.Errorf("hook %d (shell dep): %w", i, err)
			}
			continue
		case deps.SentinelInstallPackagesName:
			continue
		}

		if registry == nil {
			return fmt.Errorf("hook %d: callable %q not registered", i, name)
		}
		fn, ok := registry.Lookup(name)
		if !ok {
			return fmt.Errorf("hook %d: callable %q not registered", i, name)
		}
		args, kwargs, err := materializeArgsKwargs(h.Args, h.Kwargs)
		if err != nil {
			return fmt.Errorf("hook %d (%s): %w", i, name, err)
		}
		if _, err := fn(args, kwargs); err != nil {
			return fmt.Errorf("hook %d (%s): %w", i, name, err)
		}
	}
	return nil
}
