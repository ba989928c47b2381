// Package dispatcher implements the Dispatcher Entry (§2's lifecycle,
// §6's command surface): deserialize lattice, initialize the Result, run
// the Wave Scheduler, persist, and expose run_workflow/cancel_workflow to
// the host.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/latticerun/dispatcher/internal/application/filestorage"
	"github.com/latticerun/dispatcher/internal/application/observer"
	"github.com/latticerun/dispatcher/internal/application/runner"
	"github.com/latticerun/dispatcher/internal/application/scheduler"
	"github.com/latticerun/dispatcher/internal/application/workerpool"
	"github.com/latticerun/dispatcher/internal/dispatchregistry"
	"github.com/latticerun/dispatcher/internal/infrastructure/storage"
	"github.com/latticerun/dispatcher/pkg/deps"
	"github.com/latticerun/dispatcher/pkg/executor"
	"github.com/latticerun/dispatcher/pkg/lattice"
	"github.com/latticerun/dispatcher/pkg/result"
)

// Dispatcher owns the collaborators every dispatch shares: the Executor
// Registry, the worker pool, the process-wide Dispatch Registry, the
// Observer Fan-out, and the Dispatch Store. One Dispatcher instance serves
// the whole process; it constructs a fresh Scheduler per dispatch.
type Dispatcher struct {
	executors        *executor.Registry
	pool             *workerpool.Pool
	dispatchRegistry *dispatchregistry.Registry
	observers        *observer.Manager
	store            *storage.DispatchStore
	blobs            *filestorage.Registry
	callables        deps.CallableRegistry
	logger           *slog.Logger

	runner *runner.Runner

	cancelMu sync.Mutex
	cancels  map[string]*bool
}

// New constructs a process-wide Dispatcher. store and blobs may be nil (no
// durable persistence / no blob side-effects), e.g. in tests.
func New(executors *executor.Registry, pool *workerpool.Pool, dispatchRegistry *dispatchregistry.Registry,
	observers *observer.Manager, store *storage.DispatchStore, blobs *filestorage.Registry, callables deps.CallableRegistry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		executors: executors, pool: pool, dispatchRegistry: dispatchRegistry,
		observers: observers, store: store, blobs: blobs, callables: callables,
		logger: logger, cancels: make(map[string]*bool),
	}
	d.runner = runner.New(executors, dispatchRegistry, d.submitSublattice, logger)
	return d
}

// RunWorkflow is the command surface's run_workflow(dispatch_id,
// serialized_lattice) -> terminal Result (§6). dispatchID may be empty, in
// which case a fresh id is generated.
func (d *Dispatcher) RunWorkflow(ctx context.Context, dispatchID string, serializedLattice []byte) (*result.Result, error) {
	if dispatchID == "" {
		dispatchID = uuid.NewString()
	}

	lat, err := lattice.Decode(serializedLattice)
	if err != nil {
		return nil, fmt.Errorf("decode lattice for dispatch %s: %w", dispatchID, err)
	}

	res := result.New(dispatchID)
	for _, n := range lat.Graph.Nodes() {
		res.InitNode(n.ID)
	}

	if err := d.dispatchRegistry.Insert(dispatchID, res); err != nil {
		return nil, err
	}
	d.setCancelFlag(dispatchID)

	defer func() {
		d.dispatchRegistry.MarkTerminal(dispatchID)
		d.clearCancelFlag(dispatchID)
		d.dispatchRegistry.Remove(dispatchID)
	}()

	sched := d.buildScheduler(dispatchID, lat, res)
	sched.Run(ctx)

	return res, nil
}

// CancelWorkflow is the command surface's cancel_workflow(dispatch_id) ->
// best-effort cancel (§6). Observed only between waves (§5, §9 Open
// Question a). A dispatch_id with no in-flight entry is a silent no-op.
func (d *Dispatcher) CancelWorkflow(dispatchID string) {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	if flag, ok := d.cancels[dispatchID]; ok {
		*flag = true
	}
}

func (d *Dispatcher) setCancelFlag(dispatchID string) {
	flag := false
	d.cancelMu.Lock()
	d.cancels[dispatchID] = &flag
	d.cancelMu.Unlock()
}

func (d *Dispatcher) clearCancelFlag(dispatchID string) {
	d.cancelMu.Lock()
	delete(d.cancels, dispatchID)
	d.cancelMu.Unlock()
}

func (d *Dispatcher) isCancelled(dispatchID string) bool {
	d.cancelMu.Lock()
	defer d.cancelMu.Unlock()
	flag, ok := d.cancels[dispatchID]
	return ok && *flag
}

func (d *Dispatcher) buildScheduler(dispatchID string, lat *lattice.Lattice, res *result.Result) *scheduler.Scheduler {
	cfg := scheduler.Config{
		ResultsDir:       lat.Metadata.ResultsDir,
		WorkflowExecutor: scheduler.ExecutorSelection{ShortName: lat.Metadata.WorkflowExecutor, Config: lat.Metadata.WorkflowExecutorConfig},
		PostProcessFn:    lat.Function,
		CancelRequested:  func() bool { return d.isCancelled(dispatchID) },
	}
	return scheduler.New(lat.Graph, res, d.runner, d.pool, d.observers, d.persist, d.callables, cfg, d.logger)
}

// submitSublattice is the runner.SubmitFunc injected into the Task Runner:
// it generates a new dispatch_id, registers it in the dispatch registry
// synchronously (so the caller's subsequent Await never races an Insert),
// then runs the nested dispatch on the shared worker pool and returns the
// new id immediately.
func (d *Dispatcher) submitSublattice(ctx context.Context, serializedLattice []byte) (string, error) {
	subDispatchID := uuid.NewString()

	lat, err := lattice.Decode(serializedLattice)
	if err != nil {
		return "", fmt.Errorf("decode sublattice: %w", err)
	}
	res := result.New(subDispatchID)
	for _, n := range lat.Graph.Nodes() {
		res.InitNode(n.ID)
	}
	if err := d.dispatchRegistry.Insert(subDispatchID, res); err != nil {
		return "", err
	}
	d.setCancelFlag(subDispatchID)

	sched := d.buildScheduler(subDispatchID, lat, res)

	submitErr := d.pool.Go(ctx, func() {
		sched.Run(context.Background())
		d.dispatchRegistry.MarkTerminal(subDispatchID)
		d.clearCancelFlag(subDispatchID)
		d.dispatchRegistry.Remove(subDispatchID)
	})
	if submitErr != nil {
		d.dispatchRegistry.MarkTerminal(subDispatchID)
		d.clearCancelFlag(subDispatchID)
		d.dispatchRegistry.Remove(subDispatchID)
		return "", submitErr
	}

	return subDispatchID, nil
}

// persist is the scheduler's PersistFunc, wired through a Dispatch Store
// Session so every Result mutation goes through the transactional envelope
// §4.6 describes, even on wirings with no blob side-effects to queue.
func (d *Dispatcher) persist(ctx context.Context, res *result.Result) error {
	if d.store == nil {
		return nil
	}
	sess, err := d.store.Begin(ctx, d.blobs, d.logger)
	if err != nil {
		return err
	}
	if err := sess.Upsert(ctx, res); err != nil {
		_ = sess.Rollback()
		return err
	}
	return sess.Commit(ctx)
}
