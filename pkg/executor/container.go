package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/latticerun/dispatcher/pkg/transportable"
)

// ContainerExecutor is the "container runtime" isolation tier: the call is
// shipped, as a JSON envelope copied to /tmp/input.json, into a short-lived
// container started from the node's configured image. A missing Docker
// daemon or unpullable image surfaces as an error from Execute (§7, §8's
// scenario S9), never a panic.
type ContainerExecutor struct {
	image      string
	entrypoint []string
	env        map[string]string
	registry   CallableRegistry
}

// NewContainerExecutorFactory returns a Factory reading "image" (required)
// and optional "entrypoint"/"env" out of the node's executor config dict.
// registry resolves generic-callable call_before/call_after hooks, which
// run in the dispatcher's own process around the container's lifetime, not
// inside the container itself; it may be nil if no node using this executor
// ever carries a generic-callable hook.
func NewContainerExecutorFactory(registry CallableRegistry) Factory {
	return func(config map[string]any) (Executor, error) {
		image, _ := config["image"].(string)
		if image == "" {
			return nil, fmt.Errorf("container executor: config missing \"image\"")
		}
		var entrypoint []string
		if raw, ok := config["entrypoint"].([]string); ok {
			entrypoint = raw
		}
		env := map[string]string{}
		if raw, ok := config["env"].(map[string]string); ok {
			env = raw
		}
		return &ContainerExecutor{image: image, entrypoint: entrypoint, env: env, registry: registry}, nil
	}
}

func (e *ContainerExecutor) Execute(ctx context.Context, req Request) (Response, error) {
	if err := runHooks(req.CallBefore, e.registry); err != nil {
		return Response{}, fmt.Errorf("call_before: %w", err)
	}

	var fnName string
	if err := transportable.Materialize(req.Function, &fnName); err != nil {
		return Response{}, fmt.Errorf("materialize function name: %w", err)
	}

	envelope := subprocessEnvelope{Callable: fnName, Args: req.Args, Kwargs: req.Kwargs}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return Response{}, fmt.Errorf("marshal container envelope: %w", err)
	}

	req2 := testcontainers.ContainerRequest{
		Image:      e.image,
		Entrypoint: e.entrypoint,
		Env:        e.env,
		Files: []testcontainers.ContainerFile{
			{
				Reader:            bytes.NewReader(payload),
				ContainerFilePath: "/tmp/input.json",
				FileMode:          0o644,
			},
		},
		WaitingFor: wait.ForExit().WithExitTimeout(0),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req2,
		Started:          true,
	})
	if err != nil {
		return Response{}, fmt.Errorf("start container for node %d (dispatch %s): %w", req.NodeID, req.DispatchID, err)
	}
	defer func() {
		_ = container.Terminate(ctx)
	}()

	stdoutReader, err := container.Logs(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("read container logs: %w", err)
	}
	defer stdoutReader.Close()

	var stdout bytes.Buffer
	if _, err := io.Copy(&stdout, stdoutReader); err != nil {
		return Response{}, fmt.Errorf("drain container logs: %w", err)
	}

	var outcome subprocessOutcome
	if err := json.Unmarshal(stdout.Bytes(), &outcome); err != nil {
		return Response{Stdout: stdout.String()}, fmt.Errorf("decode container outcome: %w", err)
	}
	if outcome.Error != "" {
		return Response{Stdout: stdout.String()}, fmt.Errorf("%s", outcome.Error)
	}

	if err := runHooks(req.CallAfter, e.registry); err != nil {
		return Response{Stdout: stdout.String()}, fmt.Errorf("call_after: %w", err)
	}

	return Response{Output: outcome.Output, Stdout: stdout.String()}, nil
}
