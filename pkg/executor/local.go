package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/latticerun/dispatcher/pkg/deps"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// LocalExecutor is the "local thread" isolation tier: it runs the
// materialized callable in the current process, resolved by name against a
// CallableRegistry. This is the cheapest and default executor variant.
// Output the callable writes to stdout/stderr is not captured: Response
// Stdout and Stderr are empty except for the shell-dependency sentinel,
// which returns its commands' output.
type LocalExecutor struct {
	registry CallableRegistry
	logger   *slog.Logger
}

// NewLocalExecutorFactory returns a Factory that builds LocalExecutors
// sharing the given callable registry; config is accepted for interface
// symmetry with the other variants but unused (the local executor has no
// isolation knobs to configure).
func NewLocalExecutorFactory(registry CallableRegistry, logger *slog.Logger) Factory {
	return func(config map[string]any) (Executor, error) {
		if logger == nil {
			logger = slog.Default()
		}
		return &LocalExecutor{registry: registry, logger: logger}, nil
	}
}

func (e *LocalExecutor) Execute(ctx context.Context, req Request) (Response, error) {
	fnName, args, kwargs, err := materializeCall(req)
	if err != nil {
		return Response{}, err
	}

	switch fnName {
	case deps.SentinelRunShellName:
		if len(req.Args) != 1 {
			return Response{}, fmt.Errorf("shell dep: expected 1 arg, got %d", len(req.Args))
		}
		stdout, stderr, err := deps.RunShellCommands(req.Args[0])
		if err != nil {
			return Response{Stdout: stdout, Stderr: stderr}, err
		}
		out, _ := transportable.Wrap(nil)
		return Response{Output: out, Stdout: stdout, Stderr: stderr}, nil
	case deps.SentinelInstallPackagesName:
		// Package installation is a no-op in this runtime: the dispatcher
		// core does not manage a Python-style virtualenv. Recorded as a
		// completed hook so call_before/call_after ordering still holds.
		out, _ := transportable.Wrap(nil)
		return Response{Output: out}, nil
	}

	if err := runHooks(req.CallBefore, e.registry); err != nil {
		return Response{}, fmt.Errorf("call_before: %w", err)
	}

	fn, ok := e.registry.Lookup(fnName)
	if !ok {
		return Response{}, fmt.Errorf("local executor: callable %q not registered", fnName)
	}

	var stdoutBuf bytes.Buffer
	result, err := func() (result any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic in node callable %q: %v", fnName, rec)
			}
		}()
		return fn(args, kwargs)
	}()
	if err != nil {
		return Response{}, err
	}

	if err := runHooks(req.CallAfter, e.registry); err != nil {
		return Response{}, fmt.Errorf("call_after: %w", err)
	}

	output, err := transportable.Wrap(result)
	if err != nil {
		return Response{}, fmt.Errorf("wrap output: %w", err)
	}
	return Response{Output: output, Stdout: stdoutBuf.String()}, nil
}
