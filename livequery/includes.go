package livequery

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowcore/livedb/collection"
	"github.com/flowcore/livedb/dataflow"
	"github.com/flowcore/livedb/query"
)

// IncludeEntry is one `include(fieldName, childQuery)` attached to a
// parent query (spec §4.9 "the runtime maintains, per include entry, a
// mapping correlationKey -> childCollection"). Child collections are
// themselves Collections, each fed by the include's compiled secondary
// pipeline (spec §4.8 "includes produce a secondary pipeline per include
// entry").
type IncludeEntry struct {
	fieldName      string
	correlationRef query.Ref
	childGraph     *dataflow.Graph
	newChildOpts   func() collection.Options[dataflow.Row, string]

	mu       sync.Mutex
	children map[string]*collection.Collection[dataflow.Row, string] // correlationKey -> child
	sources  map[string]Source
	unsubs   []func()
	buffered map[string][]dataflow.Change
	// routing maps a nested include's correlationKey up to this entry's
	// own correlationKey, so nested flushes land in the right child (spec
	// §4.9 phase 3 "route nested include buffers to per-entry states using
	// a routing index nestedCorrelationKey -> parentCorrelationKey").
	routing map[string]string
	// nested holds include entries attached to this entry's own child
	// graph (an include within an include), recursively flushed from
	// this entry's flush (spec §4.9 phase 4).
	nested []*IncludeEntry
}

// NewIncludeEntry builds an IncludeEntry for fieldName, whose child rows
// correlate to a parent row via correlationRef (a Ref into the child
// row naming the field that equals the parent's key).
func NewIncludeEntry(fieldName string, correlationRef query.Ref, childGraph *dataflow.Graph, newChildOpts func() collection.Options[dataflow.Row, string]) *IncludeEntry {
	return &IncludeEntry{
		fieldName:      fieldName,
		correlationRef: correlationRef,
		childGraph:     childGraph,
		newChildOpts:   newChildOpts,
		children:       make(map[string]*collection.Collection[dataflow.Row, string]),
		sources:        make(map[string]Source),
		buffered:       make(map[string][]dataflow.Change),
		routing:        make(map[string]string),
	}
}

// AttachSource subscribes src as one of this include's child-graph input
// aliases. Deltas are buffered and drained on the next flush, mirroring
// Runtime.AttachSource/ingest for the top-level graph.
func (e *IncludeEntry) AttachSource(src Source) {
	e.mu.Lock()
	e.sources[src.Alias()] = src
	e.mu.Unlock()

	var alias = src.Alias()
	var unsub = src.Subscribe(func(changes []dataflow.Change) {
		e.mu.Lock()
		e.buffered[alias] = append(e.buffered[alias], changes...)
		e.mu.Unlock()
	})
	e.mu.Lock()
	e.unsubs = append(e.unsubs, unsub)
	e.mu.Unlock()
}

// AddNested registers a sub-include attached to this entry's own child
// graph (an include nested inside an include).
func (e *IncludeEntry) AddNested(child *IncludeEntry) {
	e.mu.Lock()
	e.nested = append(e.nested, child)
	e.mu.Unlock()
}

// Close tears down every child-source subscription and every child
// Collection this entry created.
func (e *IncludeEntry) Close() {
	e.mu.Lock()
	var unsubs = e.unsubs
	e.unsubs = nil
	var children = e.children
	e.children = make(map[string]*collection.Collection[dataflow.Row, string])
	var nested = e.nested
	e.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for _, c := range children {
		c.Cleanup()
	}
	for _, n := range nested {
		n.Close()
	}
}

// ensureChild returns the child Collection for correlationKey, creating
// and starting it if this is the first time the key has been seen (spec
// §4.9 phase 1 "for each parent insert ... ensure a child Collection
// exists; attach it to the parent row under fieldName").
func (e *IncludeEntry) ensureChild(correlationKey string) *collection.Collection[dataflow.Row, string] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.children[correlationKey]; ok {
		return c
	}
	var c = collection.New(e.newChildOpts())
	_ = c.StartLoading()
	c.BeginPendingSync()
	_ = c.CommitSync()
	_ = c.MarkReady()
	e.children[correlationKey] = c
	return c
}

// dispose tears down and forgets the child Collection for
// correlationKey, and purges any routing entries pointing at it (spec
// §4.9 phase 5 "for each parent delete, dispose the child Collection and
// purge routing entries").
func (e *IncludeEntry) dispose(correlationKey string) {
	e.mu.Lock()
	if c, ok := e.children[correlationKey]; ok {
		c.Cleanup()
		delete(e.children, correlationKey)
	}
	var nested = append([]*IncludeEntry(nil), e.nested...)
	e.mu.Unlock()

	for _, n := range nested {
		n.mu.Lock()
		var toDispose []string
		for nestedKey, parent := range n.routing {
			if parent == correlationKey {
				toDispose = append(toDispose, nestedKey)
				delete(n.routing, nestedKey)
			}
		}
		n.mu.Unlock()
		for _, nk := range toDispose {
			n.dispose(nk)
		}
	}
}

// routeChild records that a nested include's correlationKey belongs
// (transitively) to this entry's parentCorrelationKey (spec §4.9
// phase 3).
func (e *IncludeEntry) routeChild(nestedCorrelationKey, parentCorrelationKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routing[nestedCorrelationKey] = parentCorrelationKey
}

// flush drains this entry's buffered child-alias changes (spec §4.9
// phase 2 "drain pending child changes into the correct child
// Collection"), runs them through the child graph, routes resulting rows
// to their correlationKey's child Collection, records routing entries for
// any nested includes (phase 3), and recursively flushes those nested
// entries against the same output (phase 4).
func (e *IncludeEntry) flush() error {
	e.mu.Lock()
	var buffered = e.buffered
	e.buffered = make(map[string][]dataflow.Change)
	e.mu.Unlock()

	var out []dataflow.OutputChange
	for alias, changes := range buffered {
		if len(changes) == 0 {
			continue
		}
		var applied, err = e.childGraph.Apply(alias, changes)
		if err != nil {
			return fmt.Errorf("livequery: include %q: %w", e.fieldName, err)
		}
		out = append(out, applied...)
	}
	if len(out) == 0 {
		return nil
	}

	var byCorrelation = make(map[string][]dataflow.OutputChange)
	for _, oc := range out {
		var key, ok = resolveRowField(oc.Row, e.correlationRef)
		if !ok {
			continue
		}
		byCorrelation[key] = append(byCorrelation[key], oc)
	}

	for correlationKey, changes := range byCorrelation {
		var child = e.ensureChild(correlationKey)
		child.BeginPendingSync()
		for _, c := range changes {
			_ = child.WriteSync(collection.WriteOp[dataflow.Row, string]{
				Type:  collection.ChangeType(c.Type),
				Key:   c.Key,
				Value: c.Row,
			})
			if c.Type == dataflow.Insert {
				for _, n := range e.nested {
					if nkey, ok := resolveRowField(c.Row, n.correlationRef); ok {
						n.routeChild(nkey, correlationKey)
					}
				}
			}
		}
		_ = child.CommitSync()
	}

	e.mu.Lock()
	var nested = append([]*IncludeEntry(nil), e.nested...)
	e.mu.Unlock()
	for _, n := range nested {
		if err := n.flush(); err != nil {
			return err
		}
	}
	return nil
}

func resolveRowField(row dataflow.Row, ref query.Ref) (string, bool) {
	var v, err = dataflow.Eval(ref, row)
	if err != nil || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// flushIncludes implements spec §4.9's per-flush include phases for
// every registered entry, given the parent batch just published.
func (r *Runtime) flushIncludes(parentBatch []dataflow.OutputChange) {
	r.mu.Lock()
	var includes = make([]*IncludeEntry, 0, len(r.includes))
	for _, e := range r.includes {
		includes = append(includes, e)
	}
	r.mu.Unlock()

	for _, entry := range includes {
		// Phase 1: for each parent insert, ensure a child Collection exists
		// and attach it to the row before anything downstream reads it.
		for _, change := range parentBatch {
			if change.Type != dataflow.Insert {
				continue
			}
			var key, ok = resolveRowField(change.Row, entry.correlationRef)
			if !ok {
				continue
			}
			var child = entry.ensureChild(key)
			change.Row[entry.fieldName] = child
		}

		// Phases 2-4: drain this entry's buffered child-alias changes,
		// route nested-include buffers, and recursively flush nested
		// entries -- all before any parent-delete disposal below, so a
		// child insert correlated to a row deleted in the same batch still
		// lands before its Collection is torn down.
		if err := entry.flush(); err != nil {
			r.log.WithFields(logrus.Fields{"err": err, "include": entry.fieldName}).Error("include flush failed")
		}

		// Phase 5: for each parent delete, dispose the child Collection
		// and purge routing entries, last.
		for _, change := range parentBatch {
			if change.Type != dataflow.Delete {
				continue
			}
			var key, ok = resolveRowField(change.Row, entry.correlationRef)
			if ok {
				entry.dispose(key)
			}
		}
	}
}
