package livequery

import (
	"sync"

	"github.com/flowcore/livedb/ops"
)

// jobKey is (contextId, jobId): spec §4.10 "keyed by a contextId
// (typically the outer user transaction id) and a jobId (typically the
// live-query runtime instance)".
type jobKey struct {
	contextID string
	jobID     string
}

// Scheduler is the transaction-scoped scheduler (C10): it deduplicates
// schedules of the same (contextId, jobId) within a context, respects
// explicit runtime dependencies, and discards pending jobs on context
// clear (spec §4.10).
type Scheduler struct {
	mu sync.Mutex

	// pending holds, per contextId, the set of jobIds already scheduled
	// and not yet run, preserving declaration order so dependency order is
	// simply "run in the order first scheduled, after dependencies."
	pending map[string][]jobKey
	queued  map[jobKey]func()
	// deps[jobId] lists jobIds that must run before jobId within the same
	// context (spec "if live-query A reads from live-query B, B runs
	// before A in the same context").
	deps map[string][]string

	metrics *ops.Metrics
}

// NewScheduler returns an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		pending: make(map[string][]jobKey),
		queued:  make(map[jobKey]func()),
		deps:    make(map[string][]string),
		metrics: ops.Noop(),
	}
}

// UseMetrics wires m as the scheduler's dedup counter sink; call before
// any Schedule if the caller wants non-noop counts.
func (s *Scheduler) UseMetrics(m *ops.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m != nil {
		s.metrics = m
	}
}

// DependsOn registers that jobID must run after every id in on, within
// any shared context.
func (s *Scheduler) DependsOn(jobID string, on ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps[jobID] = append(s.deps[jobID], on...)
}

// Schedule runs fn immediately if contextID is empty (spec "outside any
// transaction, schedules execute immediately"); otherwise it queues fn to
// run once Flush(contextID) is called, deduplicating by (contextID,
// jobID) so a job already queued this context is not queued twice.
func (s *Scheduler) Schedule(contextID, jobID string, fn func()) {
	if contextID == "" {
		fn()
		return
	}

	s.mu.Lock()
	var key = jobKey{contextID: contextID, jobID: jobID}
	if _, dup := s.queued[key]; dup {
		s.metrics.SchedulerDedup.WithLabelValues(jobID).Inc()
		s.mu.Unlock()
		return
	}
	s.queued[key] = fn
	s.pending[contextID] = append(s.pending[contextID], key)
	s.mu.Unlock()
}

// Flush runs every job queued for contextID exactly once, in dependency
// order (spec §5 "all graph runs for that context execute in dependency
// order; each runtime runs at most once per context").
func (s *Scheduler) Flush(contextID string) {
	s.mu.Lock()
	var keys = s.pending[contextID]
	delete(s.pending, contextID)
	var fns = make(map[jobKey]func(), len(keys))
	for _, k := range keys {
		fns[k] = s.queued[k]
		delete(s.queued, k)
	}
	var deps = s.deps
	s.mu.Unlock()

	var ordered = topoSort(keys, deps)
	var ran = make(map[jobKey]struct{}, len(ordered))
	for _, k := range ordered {
		if _, done := ran[k]; done {
			continue
		}
		if fn, ok := fns[k]; ok {
			fn()
			ran[k] = struct{}{}
		}
	}
}

// ClearContext discards every job pending for contextID without running
// it (spec "on context clear (rollback/abort), pending jobs for that
// context are dropped"). The caller is responsible for notifying each
// affected runtime so it can discard accumulated load-callbacks.
func (s *Scheduler) ClearContext(contextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.pending[contextID] {
		delete(s.queued, k)
	}
	delete(s.pending, contextID)
}

// topoSort orders keys so that, within the same contextID, a job whose
// jobID appears in another's deps list runs first. Cross-context
// dependencies are ignored since a job only ever depends on jobs in its
// own transaction.
func topoSort(keys []jobKey, deps map[string][]string) []jobKey {
	var byJobID = make(map[string]jobKey, len(keys))
	for _, k := range keys {
		byJobID[k.jobID] = k
	}

	var visited = make(map[string]bool, len(keys))
	var out = make([]jobKey, 0, len(keys))

	var visit func(jobID string)
	visit = func(jobID string) {
		if visited[jobID] {
			return
		}
		visited[jobID] = true
		for _, dep := range deps[jobID] {
			if _, inContext := byJobID[dep]; inContext {
				visit(dep)
			}
		}
		if k, ok := byJobID[jobID]; ok {
			out = append(out, k)
		}
	}

	for _, k := range keys {
		visit(k.jobID)
	}
	return out
}
