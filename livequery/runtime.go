package livequery

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowcore/livedb/collection"
	"github.com/flowcore/livedb/dataflow"
	"github.com/flowcore/livedb/ops"
)

// GetKeyFunc derives the user-visible key published for a row, letting
// several internal dataflow output keys collapse to one external key (spec
// §4.9 "A custom getKey may collapse multiple internal output keys to a
// single user-visible key, in which case a retract+insert pair is merged
// into an UPDATE"). Left unset, the dataflow graph's own candidateKey is
// published verbatim.
type GetKeyFunc func(dataflow.Row) string

// ContextProvider returns the currently active transaction-scope context
// id, or "" if none is open; the scheduler uses it to batch graph runs
// per logical transaction (spec §4.10). Runtimes composed without one
// always schedule immediately, which is also the correct behavior outside
// any transaction.
type ContextProvider func() string

// Runtime owns one compiled dataflow.Graph, its per-alias source
// subscriptions, and the Collection its incrementally-maintained result
// is published into (spec §4.9, component C9).
type Runtime struct {
	id    string // jobId, spec §4.10
	graph *dataflow.Graph
	log   *logrus.Entry

	scheduler *Scheduler
	loader    *Loader
	ctxFn     ContextProvider
	getKey    GetKeyFunc

	output  *collection.Collection[dataflow.Row, string]
	metrics *ops.Metrics

	mu        sync.Mutex
	sources   map[string]Source
	unsubs    []func()
	buffered  map[string][]dataflow.Change
	readyOnce bool

	includes map[string]*IncludeEntry
}

// NewRuntime constructs a Runtime around an already-compiled graph and
// starts its output collection loading.
func NewRuntime(id string, graph *dataflow.Graph, scheduler *Scheduler, outputOpts collection.Options[dataflow.Row, string], log *logrus.Entry) *Runtime {
	if outputOpts.KeyOf == nil {
		outputOpts.KeyOf = func(r dataflow.Row) string { return fmt.Sprint(r) }
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	var r = &Runtime{
		id:        id,
		graph:     graph,
		log:       log,
		scheduler: scheduler,
		loader:    NewLoader(),
		output:    collection.New(outputOpts),
		metrics:   ops.Noop(),
		sources:   make(map[string]Source),
		buffered:  make(map[string][]dataflow.Change),
		includes:  make(map[string]*IncludeEntry),
	}
	_ = r.output.StartLoading()
	return r
}

// UseMetrics wires m as the destination for this runtime's
// live_query_run_seconds histogram, labeled by id.
func (r *Runtime) UseMetrics(m *ops.Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// UseGetKey wires a custom key-collapsing function for this runtime's
// published output (spec §4.9 getKey collapsing).
func (r *Runtime) UseGetKey(fn GetKeyFunc) {
	r.getKey = fn
}

// UseScheduler wires the transaction-scoped scheduler this runtime
// schedules graph runs through; without one, every change runs
// immediately (equivalent to always being outside a transaction).
func (r *Runtime) UseScheduler(s *Scheduler, ctxFn ContextProvider) {
	r.scheduler = s
	r.ctxFn = ctxFn
}

// Output is the live query's own Collection (spec §4.9 "flushed as a
// single synced transaction into the live query's own Collection (C1)").
func (r *Runtime) Output() *collection.Collection[dataflow.Row, string] { return r.output }

// AttachSource subscribes src and feeds its deltas into the graph's
// matching alias input stream. One call per alias in the query tree,
// including once per occurrence of a self-joined alias (spec §4.9
// "total source subscriptions = number of distinct aliases").
func (r *Runtime) AttachSource(src Source) {
	r.mu.Lock()
	r.sources[src.Alias()] = src
	r.mu.Unlock()

	var alias = src.Alias()
	var unsub = src.Subscribe(func(changes []dataflow.Change) {
		r.ingest(alias, changes)
	})
	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsub)
	r.mu.Unlock()
}

// AddInclude registers a correlated sub-query entry (spec §4.9
// "Includes").
func (r *Runtime) AddInclude(entry *IncludeEntry) {
	r.mu.Lock()
	r.includes[entry.fieldName] = entry
	r.mu.Unlock()
}

func (r *Runtime) ingest(alias string, changes []dataflow.Change) {
	r.mu.Lock()
	r.buffered[alias] = append(r.buffered[alias], changes...)
	r.mu.Unlock()

	var contextID string
	if r.ctxFn != nil {
		contextID = r.ctxFn()
	}
	if r.scheduler != nil {
		r.scheduler.Schedule(contextID, r.id, r.runOnce)
	} else {
		r.runOnce()
	}
}

// runOnce applies every buffered alias's changes to the graph at most
// once (spec §4.9 "all upstream changes in a given logical transaction
// are buffered and the graph is run at most once") and flushes the
// result into the output collection and any includes.
func (r *Runtime) runOnce() {
	var started = time.Now()
	defer func() {
		r.metrics.LiveQueryRunDuration.WithLabelValues(r.id).Observe(time.Since(started).Seconds())
	}()

	r.mu.Lock()
	var buffered = r.buffered
	r.buffered = make(map[string][]dataflow.Change)
	r.mu.Unlock()

	var all []dataflow.OutputChange
	for alias, changes := range buffered {
		if len(changes) == 0 {
			continue
		}
		out, err := r.graph.Apply(alias, changes)
		if err != nil {
			r.log.WithFields(logrus.Fields{"err": err, "alias": alias}).Error("live query graph run failed")
			r.output.SetErrored(err)
			return
		}
		all = append(all, out...)
	}
	if len(all) == 0 {
		r.maybeMarkReady()
		return
	}

	r.publish(all)
	r.flushIncludes(all)
	r.maybeMarkReady()
}

func (r *Runtime) publish(changes []dataflow.OutputChange) {
	if r.getKey != nil {
		changes = collapseByGetKey(changes, r.getKey)
	}

	r.output.BeginPendingSync()
	for _, c := range changes {
		_ = r.output.WriteSync(collection.WriteOp[dataflow.Row, string]{
			Type:  collection.ChangeType(c.Type),
			Key:   c.Key,
			Value: c.Row,
		})
	}
	_ = r.output.CommitSync()
}

// collapseByGetKey remaps a batch of dataflow output changes from their
// internal candidate keys onto getKey's external keys, merging a
// retract+insert pair that collapses to the same external key into a
// single Update (spec §4.9 getKey collapsing).
func collapseByGetKey(changes []dataflow.OutputChange, getKey GetKeyFunc) []dataflow.OutputChange {
	type bucket struct {
		key     string
		changes []dataflow.OutputChange
	}
	var order []string
	var buckets = make(map[string]*bucket)
	for _, c := range changes {
		var key = getKey(c.Row)
		var b, ok = buckets[key]
		if !ok {
			b = &bucket{key: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.changes = append(b.changes, c)
	}

	var out = make([]dataflow.OutputChange, 0, len(changes))
	for _, key := range order {
		var b = buckets[key]
		if len(b.changes) == 2 && b.changes[0].Type == dataflow.Delete && b.changes[1].Type == dataflow.Insert {
			var ins = b.changes[1]
			out = append(out, dataflow.OutputChange{Type: dataflow.Update, Key: key, Row: ins.Row, OrderByIndex: ins.OrderByIndex})
			continue
		}
		for _, c := range b.changes {
			c.Key = key
			out = append(out, c)
		}
	}
	return out
}

func (r *Runtime) maybeMarkReady() {
	if r.IsReady() {
		_ = r.output.MarkReady()
	}
}

// IsReady implements spec §4.9's ready rule: all per-alias subscriptions
// established, every source ready, and no subset-loading request in
// flight.
func (r *Runtime) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.graph.CheckInputs(r.readyAliasSet()); err != nil {
		return false
	}
	for _, src := range r.sources {
		if !src.IsReady() {
			return false
		}
	}
	return r.loader.InFlightCount() == 0
}

func (r *Runtime) readyAliasSet() map[string]bool {
	var set = make(map[string]bool, len(r.sources))
	for alias := range r.sources {
		set[alias] = true
	}
	return set
}

// SetWindow forwards to the graph and, if it reports the window isn't
// filled, issues a deduplicated loadSubset against upstream (spec §4.11).
func (r *Runtime) SetWindow(offset, limit int, upstream UpstreamLoader) {
	var req = r.graph.SetWindow(offset, limit)
	if req == nil {
		return
	}
	if upstream == nil {
		return
	}
	go func() {
		if _, err := r.loader.Request(upstream, *req); err != nil {
			r.log.WithFields(logrus.Fields{"err": err}).Warn("loadSubset failed")
		}
		r.maybeMarkReady()
	}()
}

// Close tears down every source subscription, every include entry's child
// collections, and the output collection.
func (r *Runtime) Close() {
	r.mu.Lock()
	var unsubs = r.unsubs
	r.unsubs = nil
	var includes = make([]*IncludeEntry, 0, len(r.includes))
	for _, e := range r.includes {
		includes = append(includes, e)
	}
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for _, e := range includes {
		e.Close()
	}
	r.output.Close()
}
