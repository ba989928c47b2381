// Package runner implements the Task Runner (§4.4): executes one transport
// graph node — assembled inputs already in hand — by resolving its executor,
// invoking it (or recursively dispatching a sublattice), and packaging the
// outcome. It never mutates a Result directly; it only ever returns a
// result.NodeOutcome for the Wave Scheduler's completion callback to merge.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latticerun/dispatcher/internal/dispatchregistry"
	"github.com/latticerun/dispatcher/pkg/executor"
	"github.com/latticerun/dispatcher/pkg/result"
	"github.com/latticerun/dispatcher/pkg/transport"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// ExecutorSelection is a (short-name, config-dict) pair, the unit the
// scheduler resolves an Executor from.
type ExecutorSelection struct {
	ShortName string
	Config    map[string]any
}

// SubmitFunc kicks off a new dispatch asynchronously and returns its
// dispatch_id immediately, without waiting for the dispatch to complete. It
// is the Task Runner's sole recursion hook into the Dispatcher Entry,
// injected at construction time rather than imported directly, to avoid an
// import cycle between runner and the package that owns dispatcher
// lifecycle (§9, "global mutable state" applies here by extension: the
// recursion path is an explicit collaborator, not an ambient import).
type SubmitFunc func(ctx context.Context, serializedLattice []byte) (dispatchID string, err error)

// Job bundles everything the Task Runner needs to run one node, mirroring
// the §4.4 input list.
type Job struct {
	DispatchID string
	ResultsDir string
	NodeID     int
	NodeName   string

	// Function/Inputs/CallBefore/CallAfter are already transportables by
	// the time they reach the runner; the Wave Scheduler performed input
	// assembly (§4.2) and dependency-bundle rehydration (§9) before
	// building this Job.
	Function   transportable.Transportable
	Inputs     transport.Inputs
	CallBefore []executor.Hook
	CallAfter  []executor.Hook

	Executor ExecutorSelection

	// IsSublattice/WorkflowExecutor/SublatticeLattice are set only for
	// :sublattice: nodes.
	IsSublattice      bool
	WorkflowExecutor  ExecutorSelection
	SublatticeLattice transportable.Transportable
}

// Runner executes Task Runner jobs. One Runner instance is shared by every
// Wave Scheduler in the process, alongside the shared worker pool and
// Executor Registry (§5).
type Runner struct {
	executors        *executor.Registry
	dispatchRegistry *dispatchregistry.Registry
	submit           SubmitFunc
	logger           *slog.Logger
}

// New constructs a Runner. submit may be nil if this process never runs
// sublattice-bearing workflows; any sublattice job then resolves its
// workflow executor and fails with a FAILED outcome reporting that no
// recursive dispatch function is configured.
func New(executors *executor.Registry, dispatchRegistry *dispatchregistry.Registry, submit SubmitFunc, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{executors: executors, dispatchRegistry: dispatchRegistry, submit: submit, logger: logger}
}

// Run executes one job to completion, synchronously, and always returns a
// fully packaged NodeOutcome — never an error, per §4.4 step 4: any
// exception anywhere in this call becomes a FAILED outcome with an error
// message, and end_time is always set.
func (r *Runner) Run(ctx context.Context, job Job) result.NodeOutcome {
	out := result.NodeOutcome{NodeID: job.NodeID, StartTime: time.Now().UTC()}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				out.Status = result.StatusFailed
				out.Error = fmt.Sprintf("panic in node %q: %v", job.NodeName, rec)
			}
		}()

		if job.IsSublattice {
			r.runSublattice(ctx, job, &out)
			return
		}
		r.runTask(ctx, job, &out)
	}()

	out.EndTime = time.Now().UTC()
	return out
}

// runTask is §4.4 steps 1 and 3: resolve the node's executor, invoke it, and
// package (output, stdout, stderr) as COMPLETED, or FAILED on either
// failure.
func (r *Runner) runTask(ctx context.Context, job Job, out *result.NodeOutcome) {
	ex, err := r.executors.Resolve(job.Executor.ShortName, job.Executor.Config)
	if err != nil {
		out.Status = result.StatusFailed
		out.Error = err.Error()
		return
	}

	req := executor.Request{
		Function:   job.Function,
		Args:       job.Inputs.Args,
		Kwargs:     job.Inputs.Kwargs,
		CallBefore: job.CallBefore,
		CallAfter:  job.CallAfter,
		DispatchID: job.DispatchID,
		ResultsDir: job.ResultsDir,
		NodeID:     job.NodeID,
	}

	resp, err := ex.Execute(ctx, req)
	if err != nil {
		out.Status = result.StatusFailed
		out.Error = err.Error()
		out.Stdout = resp.Stdout
		out.Stderr = resp.Stderr
		return
	}

	out.Status = result.StatusCompleted
	out.Output = resp.Output
	out.HasOutput = true
	out.Stdout = resp.Stdout
	out.Stderr = resp.Stderr
}

// runSublattice is §4.4 step 2. The workflow executor is resolved only to
// surface a resolution failure the same way a regular node would (§7's
// "Executor resolution failure" row applies uniformly); the actual
// kick-off goes through submit rather than through the resolved Executor,
// since recursive dispatch is dispatcher bookkeeping, not node logic the
// isolation tier needs to run.
func (r *Runner) runSublattice(ctx context.Context, job Job, out *result.NodeOutcome) {
	if _, err := r.executors.Resolve(job.WorkflowExecutor.ShortName, job.WorkflowExecutor.Config); err != nil {
		out.Status = result.StatusFailed
		out.Error = err.Error()
		return
	}
	if r.submit == nil {
		out.Status = result.StatusFailed
		out.Error = "sublattice dispatch: no recursive dispatch function configured"
		return
	}

	var serializedLattice []byte
	if err := transportable.Materialize(job.SublatticeLattice, &serializedLattice); err != nil {
		out.Status = result.StatusFailed
		out.Error = fmt.Sprintf("materialize sublattice lattice: %v", err)
		return
	}

	subDispatchID, err := r.submit(ctx, serializedLattice)
	if err != nil {
		out.Status = result.StatusFailed
		out.Error = fmt.Sprintf("submit sublattice dispatch: %v", err)
		return
	}
	out.SubDispatchID = subDispatchID

	subResult, err := r.dispatchRegistry.Await(ctx, subDispatchID)
	if err != nil {
		out.Status = result.StatusFailed
		out.Error = fmt.Sprintf("await sublattice dispatch %s: %v", subDispatchID, err)
		return
	}

	if subResult.OverallStatus() != result.StatusCompleted {
		out.Status = result.StatusFailed
		out.Error = "Sublattice workflow failed to complete"
		out.SublatticeResult = subResult
		return
	}

	out.Status = result.StatusCompleted
	out.Output = subResult.FinalResult
	out.HasOutput = subResult.HasFinalResult
	out.SublatticeResult = subResult
}
