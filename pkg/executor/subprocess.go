package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/latticerun/dispatcher/pkg/transportable"
)

// subprocessEnvelope is the wire format fed to the companion worker binary
// on stdin and read back from it on stdout.
type subprocessEnvelope struct {
	Callable string                        `json:"callable"`
	Args     []transportable.Transportable `json:"args"`
	Kwargs   map[string]transportable.Transportable `json:"kwargs"`
}

type subprocessOutcome struct {
	Output transportable.Transportable `json:"output"`
	Error  string                      `json:"error,omitempty"`
}

// SubprocessExecutor is the "remote worker" isolation tier: each invocation
// runs through a companion worker binary via os/exec, isolating the call
// from the dispatcher's own process at the cost of startup latency.
type SubprocessExecutor struct {
	workerPath string
	args       []string
	registry   CallableRegistry
}

// NewSubprocessExecutorFactory returns a Factory reading "worker_path" (and
// optional "worker_args") out of the node's executor config dict. registry
// resolves generic-callable call_before/call_after hooks, which run in the
// dispatcher's own process, not inside the worker; it may be nil if no node
// using this executor ever carries a generic-callable hook.
func NewSubprocessExecutorFactory(registry CallableRegistry) Factory {
	return func(config map[string]any) (Executor, error) {
		path, _ := config["worker_path"].(string)
		if path == "" {
			return nil, fmt.Errorf("subprocess executor: config missing \"worker_path\"")
		}
		var extraArgs []string
		if raw, ok := config["worker_args"].([]string); ok {
			extraArgs = raw
		}
		return &SubprocessExecutor{workerPath: path, args: extraArgs, registry: registry}, nil
	}
}

func (e *SubprocessExecutor) Execute(ctx context.Context, req Request) (Response, error) {
	if err := runHooks(req.CallBefore, e.registry); err != nil {
		return Response{}, fmt.Errorf("call_before: %w", err)
	}

	var fnName string
	if err := transportable.Materialize(req.Function, &fnName); err != nil {
		return Response{}, fmt.Errorf("materialize function name: %w", err)
	}

	envelope := subprocessEnvelope{Callable: fnName, Args: req.Args, Kwargs: req.Kwargs}
	stdin, err := json.Marshal(envelope)
	if err != nil {
		return Response{}, fmt.Errorf("marshal subprocess envelope: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.workerPath, e.args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Response{Stdout: stdout.String(), Stderr: stderr.String()},
			fmt.Errorf("subprocess worker %s (node %d, dispatch %s): %w", e.workerPath, req.NodeID, req.DispatchID, err)
	}

	var outcome subprocessOutcome
	dec := json.NewDecoder(bytes.NewReader(stdout.Bytes()))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&outcome); err != nil {
		return Response{Stdout: stdout.String(), Stderr: stderr.String()},
			fmt.Errorf("decode subprocess outcome: %w", err)
	}
	if outcome.Error != "" {
		return Response{Stdout: stdout.String(), Stderr: stderr.String()}, fmt.Errorf("%s", outcome.Error)
	}

	if err := runHooks(req.CallAfter, e.registry); err != nil {
		return Response{}, fmt.Errorf("call_after: %w", err)
	}

	return Response{Output: outcome.Output, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
