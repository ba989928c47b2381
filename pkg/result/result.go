// Package result holds the canonical per-dispatch state: node states,
// outputs, timings, and the overall terminal status. The Result is the
// single source of truth a dispatch's persistence and observer messages
// derive from.
package result

import (
	"sync"
	"time"

	"github.com/latticerun/dispatcher/pkg/models"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// NodeState is the mutable runtime state tracked for one transport-graph
// node across a dispatch's lifetime.
type NodeState struct {
	Status        Status
	StartTime     time.Time
	EndTime       time.Time
	Output        transportable.Transportable
	HasOutput     bool
	Error         string
	Stdout        string
	Stderr        string
	SubDispatchID string
	// SublatticeResult carries the full nested Result when this node is a
	// :sublattice: node, for the §7/S5 "sublattice_result" contract.
	SublatticeResult *Result
}

// Result is the per-dispatch canonical state. All accessors are safe for
// concurrent use; the Wave Scheduler is the sole writer (§5: "Persistence
// writes for a given dispatch are totally ordered"), but the RWMutex
// guards readers racing observer/persistence goroutines against it,
// following the teacher's ExecutionState Get*/Set* accessor-pair pattern.
type Result struct {
	mu sync.RWMutex

	DispatchID string
	Status     Status
	StartTime  time.Time
	EndTime    time.Time
	Error      string
	// FinalResult is the workflow's terminal return value, set only on
	// COMPLETED.
	FinalResult    transportable.Transportable
	HasFinalResult bool

	nodeStates map[int]*NodeState
}

// New creates a fresh Result in NEW_OBJECT status for the given dispatch.
func New(dispatchID string) *Result {
	return &Result{
		DispatchID: dispatchID,
		Status:     StatusNewObject,
		nodeStates: make(map[int]*NodeState),
	}
}

// InitNode registers a node's initial (NEW_OBJECT) state. Called once per
// node when the Result is built from the transport graph.
func (r *Result) InitNode(nodeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodeStates[nodeID]; !ok {
		r.nodeStates[nodeID] = &NodeState{Status: StatusNewObject}
	}
}

// NodeState returns a copy of a node's current state.
func (r *Result) NodeState(nodeID int) (NodeState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.nodeStates[nodeID]
	if !ok {
		return NodeState{}, models.ErrNodeNotFound
	}
	return *ns, nil
}

// NodeOutput returns a node's output; the second return value is false
// unless the node's status is COMPLETED, matching the invariant "output is
// readable only when status = COMPLETED".
func (r *Result) NodeOutput(nodeID int) (transportable.Transportable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.nodeStates[nodeID]
	if !ok || ns.Status != StatusCompleted || !ns.HasOutput {
		return transportable.Transportable{}, false
	}
	return ns.Output, true
}

// SetNodeRunning transitions a node to RUNNING and stamps its start time.
func (r *Result) SetNodeRunning(nodeID int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := r.mustNode(nodeID)
	ns.Status = StatusRunning
	ns.StartTime = at
}

// NodeOutcome is the packaged result of one Task Runner invocation, merged
// into the Result by the scheduler's completion callback.
type NodeOutcome struct {
	NodeID           int
	Status           Status
	Output           transportable.Transportable
	HasOutput        bool
	Error            string
	Stdout           string
	Stderr           string
	StartTime        time.Time
	EndTime          time.Time
	SubDispatchID    string
	SublatticeResult *Result
}

// MergeNodeOutcome applies a Task Runner's outcome to the node's state.
// Never mutates the Result directly from the Task Runner goroutine itself —
// the scheduler's completion callback is the only caller, preserving the
// single-writer discipline of §5.
func (r *Result) MergeNodeOutcome(o NodeOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns := r.mustNode(o.NodeID)
	ns.Status = o.Status
	ns.Output = o.Output
	ns.HasOutput = o.HasOutput
	ns.Error = o.Error
	ns.Stdout = o.Stdout
	ns.Stderr = o.Stderr
	if !o.StartTime.IsZero() {
		ns.StartTime = o.StartTime
	}
	ns.EndTime = o.EndTime
	ns.SubDispatchID = o.SubDispatchID
	ns.SublatticeResult = o.SublatticeResult
}

func (r *Result) mustNode(nodeID int) *NodeState {
	ns, ok := r.nodeStates[nodeID]
	if !ok {
		ns = &NodeState{Status: StatusNewObject}
		r.nodeStates[nodeID] = ns
	}
	return ns
}

// SetRunning transitions the overall dispatch to RUNNING.
func (r *Result) SetRunning(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = StatusRunning
	r.StartTime = at
}

// SetStatus transitions the overall dispatch to a non-terminal status (e.g.
// POSTPROCESSING) without touching end_time.
func (r *Result) SetStatus(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
}

// SetTerminal transitions the overall dispatch to a terminal status,
// stamping the end time and, for failures, the error message.
func (r *Result) SetTerminal(status Status, at time.Time, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
	r.EndTime = at
	if errMsg != "" {
		r.Error = errMsg
	}
}

// SetFinalResult records the workflow's post-processed return value.
func (r *Result) SetFinalResult(v transportable.Transportable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinalResult = v
	r.HasFinalResult = true
}

// OverallStatus returns the current dispatch-level status.
func (r *Result) OverallStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// NodeIDs returns every node id tracked by this Result (unordered).
func (r *Result) NodeIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.nodeStates))
	for id := range r.nodeStates {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a shallow copy of the Result suitable for serialization;
// it does not hold the lock across the caller's use, so callers must treat
// it as a point-in-time view.
func (r *Result) Snapshot() ResultDoc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc := ResultDoc{
		DispatchID:     r.DispatchID,
		Status:         r.Status,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Error:          r.Error,
		FinalResult:    r.FinalResult,
		HasFinalResult: r.HasFinalResult,
		Nodes:          make(map[int]NodeState, len(r.nodeStates)),
	}
	for id, ns := range r.nodeStates {
		doc.Nodes[id] = *ns
	}
	return doc
}

// ResultDoc is the plain-data view of a Result used for JSON persistence
// and observer delivery (§4.6's serialization rules: Status renders to its
// string tag, timestamps render ISO-8601 via json's default time.Time
// marshaling, and node states are keyed by node id).
type ResultDoc struct {
	DispatchID     string             `json:"dispatch_id"`
	Status         Status             `json:"status"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time,omitempty"`
	Error          string             `json:"error,omitempty"`
	FinalResult    transportable.Transportable `json:"result,omitempty"`
	HasFinalResult bool               `json:"-"`
	Nodes          map[int]NodeState  `json:"nodes"`
}
