// Package scheduler implements the Wave Scheduler (§4.5): drives one
// dispatch's transport graph to a terminal status, one topological layer at
// a time, submitting Task Runner jobs to the shared worker pool and merging
// their outcomes back into the Result.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/latticerun/dispatcher/internal/application/observer"
	"github.com/latticerun/dispatcher/internal/application/runner"
	"github.com/latticerun/dispatcher/internal/application/workerpool"
	"github.com/latticerun/dispatcher/pkg/deps"
	"github.com/latticerun/dispatcher/pkg/executor"
	"github.com/latticerun/dispatcher/pkg/result"
	"github.com/latticerun/dispatcher/pkg/transport"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// ExecutorSelection is a (short-name, config-dict) pair.
type ExecutorSelection struct {
	ShortName string
	Config    map[string]any
}

// Config carries the lattice-level settings the Scheduler needs but the
// transport graph doesn't own per-node: results directory and the
// workflow-level executor used for post-processing and sublattice
// recursion.
type Config struct {
	ResultsDir       string
	WorkflowExecutor ExecutorSelection
	PostProcessFn    transportable.Transportable // the lattice's top-level function

	// CancelRequested is polled between waves (§5, "cooperative and
	// coarse"): in-flight executor calls are never interrupted, but no
	// further layer is submitted once it reports true.
	CancelRequested func() bool
}

// PersistFunc durably writes the Result's current snapshot. The scheduler
// calls it after every mutation; persistence failures are logged by the
// implementation, never rethrown into the scheduler's control path (§7).
type PersistFunc func(ctx context.Context, res *result.Result) error

// Scheduler drives one dispatch. A fresh Scheduler is created per dispatch;
// all Schedulers in a process share the same Runner, Pool, and Executor
// Registry (§5).
type Scheduler struct {
	graph  *transport.Graph
	res    *result.Result
	runner *runner.Runner
	pool   *workerpool.Pool

	observers *observer.Manager
	persist   PersistFunc
	callables deps.CallableRegistry

	cfg    Config
	logger *slog.Logger
}

// New constructs a Scheduler for one dispatch.
func New(graph *transport.Graph, res *result.Result, run *runner.Runner, pool *workerpool.Pool,
	observers *observer.Manager, persist PersistFunc, callables deps.CallableRegistry, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		graph: graph, res: res, runner: run, pool: pool,
		observers: observers, persist: persist, callables: callables,
		cfg: cfg, logger: logger,
	}
}

// Run executes §4.5's algorithm to completion. It returns only when the
// dispatch has reached a terminal status; the terminal status itself is
// read off s.res by the caller.
func (s *Scheduler) Run(ctx context.Context) {
	now := time.Now().UTC()
	s.res.SetRunning(now)
	s.notify(observer.EventDispatchStarted)
	s.persistNow(ctx)

	layers, err := s.graph.TopologicalLayers()
	if err != nil {
		s.failWorkflow(ctx, err.Error())
		return
	}

	for _, layer := range layers {
		if s.cfg.CancelRequested != nil && s.cfg.CancelRequested() {
			s.res.SetTerminal(result.StatusCancelled, time.Now().UTC(), "")
			s.notify(observer.EventDispatchFinished)
			s.persistNow(ctx)
			return
		}

		sorted := append([]int(nil), layer...)
		sort.Ints(sorted)

		if abort := s.runLayer(ctx, sorted); abort {
			return
		}
	}

	s.postProcess(ctx, layers)
}

// runLayer submits every node of one layer and waits for all of them to
// reach a terminal state, per §4.5 step 3. It returns true if the workflow
// was terminated early (a FAILED or CANCELLED node in this layer).
func (s *Scheduler) runLayer(ctx context.Context, nodeIDs []int) (aborted bool) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []string
	var cancelled bool

	for _, id := range nodeIDs {
		node, err := s.graph.Node(id)
		if err != nil {
			continue
		}

		if node.IsPure() {
			s.runPureNode(node)
			if ns, err := s.res.NodeState(node.ID); err == nil && ns.Status == result.StatusFailed {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("Node %s failed: %s", node.Name, ns.Error))
				mu.Unlock()
			}
			continue
		}

		job, err := s.buildJob(node)
		if err != nil {
			mu.Lock()
			failures = append(failures, fmt.Sprintf("Node %s failed: %s", node.Name, err.Error()))
			mu.Unlock()
			continue
		}

		s.res.SetNodeRunning(node.ID, time.Now().UTC())
		s.notify(observer.EventDispatchUpdated)
		s.persistNow(ctx)

		wg.Add(1)
		submitErr := s.pool.Go(ctx, func() {
			defer wg.Done()
			outcome := s.runner.Run(ctx, job)
			s.res.MergeNodeOutcome(outcome)
			s.notify(observer.EventDispatchUpdated)
			s.persistNow(ctx)

			if outcome.Status == result.StatusFailed {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("Node %s failed: %s", job.NodeName, outcome.Error))
				mu.Unlock()
			}
			if outcome.Status == result.StatusCancelled {
				mu.Lock()
				cancelled = true
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			failures = append(failures, fmt.Sprintf("Node %s failed: %s", node.Name, submitErr.Error()))
			mu.Unlock()
		}
	}

	wg.Wait()

	if len(failures) > 0 {
		s.res.SetTerminal(result.StatusFailed, time.Now().UTC(), failures[0])
		s.notify(observer.EventDispatchFinished)
		s.persistNow(ctx)
		return true
	}
	if cancelled {
		s.res.SetTerminal(result.StatusCancelled, time.Now().UTC(), "")
		s.notify(observer.EventDispatchFinished)
		s.persistNow(ctx)
		return true
	}
	return false
}

// runPureNode evaluates a parameter/subscript/attribute/generator node
// inline (§4.5 step 3a / §3 invariant 5): no executor dispatch, COMPLETED
// immediately with start_time == end_time.
func (s *Scheduler) runPureNode(node *transport.Node) {
	at := time.Now().UTC()
	out, err := evaluatePure(s.graph, node, s.res.NodeOutput)
	if err != nil {
		s.res.MergeNodeOutcome(result.NodeOutcome{
			NodeID: node.ID, Status: result.StatusFailed, Error: err.Error(),
			StartTime: at, EndTime: at,
		})
		s.notify(observer.EventDispatchUpdated)
		return
	}
	s.res.MergeNodeOutcome(result.NodeOutcome{
		NodeID: node.ID, Status: result.StatusCompleted,
		Output: out, HasOutput: true, StartTime: at, EndTime: at,
	})
	s.notify(observer.EventDispatchUpdated)
}

// buildJob assembles a non-pure node's Task Runner job: input assembly
// (§4.2) plus dependency-bundle rehydration for call_before/call_after.
// Any error here is a wave-abort cause (§7), surfaced to the caller so
// runLayer folds it into this layer's failure set instead of submitting.
func (s *Scheduler) buildJob(node *transport.Node) (runner.Job, error) {
	inputs, err := s.graph.AssembleInputs(node.ID, s.res.NodeOutput)
	if err != nil {
		return runner.Job{}, err
	}

	callBefore, err := s.rehydrateHooks(node.Metadata.CallBefore)
	if err != nil {
		return runner.Job{}, fmt.Errorf("call_before: %w", err)
	}
	callAfter, err := s.rehydrateHooks(node.Metadata.CallAfter)
	if err != nil {
		return runner.Job{}, fmt.Errorf("call_after: %w", err)
	}

	job := runner.Job{
		DispatchID: s.res.DispatchID,
		ResultsDir: s.cfg.ResultsDir,
		NodeID:     node.ID,
		NodeName:   node.Name,
		Function:   node.Function,
		Inputs:     inputs,
		CallBefore: callBefore,
		CallAfter:  callAfter,
		Executor:   ExecutorSelection{ShortName: node.Metadata.ExecutorShortName, Config: node.Metadata.ExecutorConfig}.toRunner(),
	}

	if node.IsSublattice() {
		job.IsSublattice = true
		job.SublatticeLattice = node.Function
		job.WorkflowExecutor = s.cfg.WorkflowExecutor.toRunner()
	}

	return job, nil
}

// rehydrateHooks materializes each dependency-bundle transportable and
// applies it, returning the full (callable, args, kwargs) hooks the Task
// Runner's executor invokes in order.
func (s *Scheduler) rehydrateHooks(hooks []transportable.Transportable) ([]executor.Hook, error) {
	if len(hooks) == 0 {
		return nil, nil
	}
	out := make([]executor.Hook, 0, len(hooks))
	for i, h := range hooks {
		var bundle deps.Bundle
		if err := transportable.Materialize(h, &bundle); err != nil {
			return nil, fmt.Errorf("hook %d: %w", i, err)
		}
		applied, err := deps.Apply(bundle, s.callables)
		if err != nil {
			return nil, fmt.Errorf("hook %d: %w", i, err)
		}
		out = append(out, executor.Hook{Function: applied.Function, Args: applied.Args, Kwargs: applied.Kwargs})
	}
	return out, nil
}

// postProcess is §4.5 step 4.
func (s *Scheduler) postProcess(ctx context.Context, layers [][]int) {
	s.res.SetStatus(result.StatusPostprocessing)
	s.notify(observer.EventDispatchUpdated)
	s.persistNow(ctx)

	if s.cfg.WorkflowExecutor.ShortName == executor.ClientExecutorName {
		s.res.SetTerminal(result.StatusPendingPostprocessing, time.Now().UTC(), "")
		s.notify(observer.EventDispatchFinished)
		s.persistNow(ctx)
		return
	}

	outputs := make(map[int]any, len(s.graph.Nodes()))
	for _, n := range s.graph.Nodes() {
		if out, ok := s.res.NodeOutput(n.ID); ok {
			if v, err := transportable.MaterializeAny(out); err == nil {
				outputs[n.ID] = v
			}
		}
	}
	outputsT, err := transportable.Wrap(outputs)
	if err != nil {
		s.failPostProcess(ctx, err.Error())
		return
	}
	layersT, err := transportable.Wrap(layers)
	if err != nil {
		s.failPostProcess(ctx, err.Error())
		return
	}

	job := runner.Job{
		DispatchID: s.res.DispatchID,
		ResultsDir: s.cfg.ResultsDir,
		NodeID:     -1,
		NodeName:   "__postprocess__",
		Function:   s.cfg.PostProcessFn,
		Inputs: transport.Inputs{Kwargs: map[string]transportable.Transportable{
			"outputs": outputsT,
			"layers":  layersT,
		}},
		Executor: s.cfg.WorkflowExecutor.toRunner(),
	}

	outcome := s.runner.Run(ctx, job)
	if outcome.Status != result.StatusCompleted {
		s.failPostProcess(ctx, outcome.Stderr)
		return
	}

	s.res.SetFinalResult(outcome.Output)
	s.res.SetTerminal(result.StatusCompleted, time.Now().UTC(), "")
	s.notify(observer.EventDispatchFinished)
	s.persistNow(ctx)
}

func (s *Scheduler) failPostProcess(ctx context.Context, reason string) {
	s.res.SetTerminal(result.StatusPostprocessingFailed, time.Now().UTC(), fmt.Sprintf("Post-processing failed: %s", reason))
	s.notify(observer.EventDispatchFinished)
	s.persistNow(ctx)
}

func (s *Scheduler) failWorkflow(ctx context.Context, reason string) {
	s.res.SetTerminal(result.StatusFailed, time.Now().UTC(), reason)
	s.notify(observer.EventDispatchFinished)
	s.persistNow(ctx)
}

func (s *Scheduler) notify(t observer.EventType) {
	if s.observers == nil {
		return
	}
	s.observers.Notify(observer.Event{Type: t, DispatchID: s.res.DispatchID, Doc: s.res.Snapshot(), EmittedAt: time.Now().UTC()})
}

func (s *Scheduler) persistNow(ctx context.Context) {
	if s.persist == nil {
		return
	}
	if err := s.persist(ctx, s.res); err != nil {
		s.logger.Warn("persist failed", "dispatch_id", s.res.DispatchID, "error", err)
	}
}

func (sel ExecutorSelection) toRunner() runner.ExecutorSelection {
	return runner.ExecutorSelection{ShortName: sel.ShortName, Config: sel.Config}
}
