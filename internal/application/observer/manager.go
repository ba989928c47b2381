package observer

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// defaultBufferSize is the per-observer queue depth. A full queue drops the
// event and logs, matching "best-effort, log-and-continue" (§4.7) — it
// never blocks the scheduler.
const defaultBufferSize = 256

// ManagerOption configures a Manager at construction time, following the
// teacher's functional-options pattern for its ObserverManager.
type ManagerOption func(*Manager)

// WithLogger overrides the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithBufferSize overrides the per-observer queue depth.
func WithBufferSize(size int) ManagerOption {
	return func(m *Manager) { m.bufferSize = size }
}

// queuedObserver pairs a registered Observer with its private FIFO delivery
// queue and drain goroutine, so one slow or misbehaving observer can never
// reorder or block another's notifications.
type queuedObserver struct {
	obs     Observer
	events  chan Event
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Manager is the Observer Fan-out: Register/Unregister/Notify/Count, with
// every registered observer fed from its own ordered queue.
type Manager struct {
	mu         sync.RWMutex
	observers  map[string]*queuedObserver
	logger     *slog.Logger
	bufferSize int

	seqMu sync.Mutex
	seq   map[string]uint64 // per-dispatch emission sequence
	drops uint64
}

// NewManager constructs a Manager, applying any ManagerOptions.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		observers:  make(map[string]*queuedObserver),
		logger:     slog.Default(),
		bufferSize: defaultBufferSize,
		seq:        make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds an observer and starts its drain goroutine. Registering
// under a name already in use replaces the previous observer.
func (m *Manager) Register(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.observers[obs.Name()]; ok {
		close(existing.stop)
	}

	qo := &queuedObserver{
		obs:    obs,
		events: make(chan Event, m.bufferSize),
		stop:   make(chan struct{}),
	}
	m.observers[obs.Name()] = qo
	qo.wg.Add(1)
	go m.drain(qo)
}

// Unregister stops and removes an observer by name.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	qo, ok := m.observers[name]
	if ok {
		delete(m.observers, name)
	}
	m.mu.Unlock()
	if ok {
		close(qo.stop)
	}
}

// Count returns the number of registered observers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observers)
}

// Notify enqueues an event for delivery to every registered observer whose
// Filter accepts it. Stamps the per-dispatch Seq before fan-out so every
// observer's queue sees the same total order.
func (m *Manager) Notify(e Event) {
	m.seqMu.Lock()
	m.seq[e.DispatchID]++
	e.Seq = m.seq[e.DispatchID]
	m.seqMu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, qo := range m.observers {
		if !safeFilter(qo.obs, e) {
			continue
		}
		select {
		case qo.events <- e:
		default:
			atomic.AddUint64(&m.drops, 1)
			m.logger.Warn("observer queue full, dropping event",
				"observer", qo.obs.Name(), "dispatch_id", e.DispatchID, "seq", e.Seq)
		}
	}
}

// drain is the single per-observer goroutine that delivers events strictly
// in enqueue order, recovering from any panic in the observer's OnEvent so
// one bad observer can't take down the manager.
func (m *Manager) drain(qo *queuedObserver) {
	defer qo.wg.Done()
	for {
		select {
		case e := <-qo.events:
			safeNotify(m.logger, qo.obs, e)
		case <-qo.stop:
			return
		}
	}
}

func safeNotify(logger *slog.Logger, obs Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("observer panicked", "observer", obs.Name(), "dispatch_id", e.DispatchID, "panic", r)
		}
	}()
	obs.OnEvent(e)
}

func safeFilter(obs Observer, e Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return obs.Filter(e)
}
