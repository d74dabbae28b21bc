package collection

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowcore/livedb/ops"
)

// IndexSpec describes a secondary index to be built over a collection's
// visible rows (spec §4.2). Expression is the canonical, deterministic
// serialization of the indexed expression and options used to compute the
// index's signature; Extract is the resolver metadata (a pure function) that
// actually produces the indexed value for a row. Per spec, "nondeterministic
// fields -- functions, symbols -- are dropped" when computing the
// signature, so Extract itself never participates in signature().
type IndexSpec[T any, K comparable] struct {
	Expression string
	Extract    func(T) string
	Async      bool
}

func (s IndexSpec[T, K]) signature() string {
	var h = sha1.Sum([]byte(s.Expression))
	return hex.EncodeToString(h[:])
}

// Index is a single resolved (or resolving) secondary index: an equality
// lookup from a canonical value string to the set of primary keys whose
// extracted value equals it.
type Index[T any, K comparable] struct {
	ID         int64
	Signature  string
	Expression string
	Async      bool
	BuiltAt    time.Time

	resolved bool
	removed  bool
	extract  func(T) string
	byValue  map[string]map[K]struct{}
	// lookup is a bounded LRU cache over Lookup() results for high
	// cardinality indexes, avoiding repeated map-of-sets materialization
	// into slices for hot query pushdown paths.
	lookup *lru.Cache[string, []K]
}

// Resolved reports whether the index has finished its (possibly
// asynchronous) initial build and can serve lookups.
func (ix *Index[T, K]) Resolved() bool { return ix.resolved }

// Lookup returns the primary keys whose extracted value equals val. Callers
// must check Resolved() first; an unresolved index always returns (nil, false).
func (ix *Index[T, K]) Lookup(val string) ([]K, bool) {
	if !ix.resolved {
		return nil, false
	}
	if cached, ok := ix.lookup.Get(val); ok {
		return cached, true
	}
	var set, ok = ix.byValue[val]
	if !ok {
		ix.lookup.Add(val, nil)
		return nil, true
	}
	var out = make([]K, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	ix.lookup.Add(val, out)
	return out, true
}

func (ix *Index[T, K]) add(key K, value T) {
	if !ix.resolved {
		return
	}
	var v = ix.extract(value)
	if ix.byValue[v] == nil {
		ix.byValue[v] = make(map[K]struct{})
	}
	ix.byValue[v][key] = struct{}{}
	ix.lookup.Remove(v)
}

func (ix *Index[T, K]) remove(key K, value T) {
	if !ix.resolved {
		return
	}
	var v = ix.extract(value)
	delete(ix.byValue[v], key)
	if len(ix.byValue[v]) == 0 {
		delete(ix.byValue, v)
	}
	ix.lookup.Remove(v)
}

// indexManager owns every Index for one collection (spec §4.2).
type indexManager[T any, K comparable] struct {
	collID      string
	metrics     *ops.Metrics
	nextID      int64
	bySignature map[string]*Index[T, K]
	byID        map[int64]*Index[T, K]
}

func newIndexManager[T any, K comparable](collID string, metrics *ops.Metrics) *indexManager[T, K] {
	return &indexManager[T, K]{
		collID:      collID,
		metrics:     metrics,
		bySignature: make(map[string]*Index[T, K]),
		byID:        make(map[int64]*Index[T, K]),
	}
}

// asyncBuildResult is posted back onto the owning collection's actor loop
// once a background index build finishes (spec §5 "Suspension points: Async
// index builds").
type asyncBuildResult[T any, K comparable] struct {
	index *Index[T, K]
	rows  map[K]T
	order []K
}

// Ensure returns the index matching spec's signature, building it (eagerly
// or by launching an async build) if it doesn't already exist. rows/order is
// a snapshot of currently-visible data, used for the initial build.
//
// onAsyncDone, if non-nil, is invoked from a background goroutine once an
// async build finishes; the caller is responsible for routing that callback
// back onto the owning collection's single goroutine.
func (m *indexManager[T, K]) Ensure(
	spec IndexSpec[T, K],
	rows map[K]T,
	order []K,
	onAsyncDone func(asyncBuildResult[T, K]),
) *Index[T, K] {
	var sig = spec.signature()
	if existing, ok := m.bySignature[sig]; ok && !existing.removed {
		return existing
	}

	m.nextID++
	cache, _ := lru.New[string, []K](4096)
	var ix = &Index[T, K]{
		ID:         m.nextID,
		Signature:  sig,
		Expression: spec.Expression,
		Async:      spec.Async,
		extract:    spec.Extract,
		byValue:    make(map[string]map[K]struct{}),
		lookup:     cache,
	}
	m.bySignature[sig] = ix
	m.byID[ix.ID] = ix

	if !spec.Async {
		m.build(ix, rows, order)
		return ix
	}

	// Async: return the unresolved placeholder immediately, build in the
	// background, and deliver the snapshot back through onAsyncDone.
	var snapshot = make(map[K]T, len(rows))
	for k, v := range rows {
		snapshot[k] = v
	}
	var orderCopy = append([]K(nil), order...)
	go func() {
		if onAsyncDone != nil {
			onAsyncDone(asyncBuildResult[T, K]{index: ix, rows: snapshot, order: orderCopy})
		}
	}()
	return ix
}

// CompleteAsync finishes an async build previously started by Ensure. It
// must be called from the owning collection's single goroutine. A build for
// an index already marked removed (the collection was cleaned up in the
// meantime) is a no-op, matching spec's "index is marked removed so
// in-flight async build tasks can short-circuit".
func (m *indexManager[T, K]) CompleteAsync(result asyncBuildResult[T, K]) {
	if result.index.removed {
		return
	}
	m.build(result.index, result.rows, result.order)
}

func (m *indexManager[T, K]) build(ix *Index[T, K], rows map[K]T, order []K) {
	var started = time.Now()
	for _, k := range order {
		var v, ok = rows[k]
		if !ok {
			continue
		}
		var ev = ix.extract(v)
		if ix.byValue[ev] == nil {
			ix.byValue[ev] = make(map[K]struct{})
		}
		ix.byValue[ev][k] = struct{}{}
	}
	ix.resolved = true
	ix.BuiltAt = time.Now()
	if m.metrics != nil {
		m.metrics.IndexBuildDuration.WithLabelValues(m.collID).Observe(time.Since(started).Seconds())
	}
}

// ApplyChange updates every resolved index for a single change (spec §4.2
// "On each change batch the manager applies add/update/remove to every
// resolved index").
func (m *indexManager[T, K]) ApplyChange(msg ChangeMessage[T, K]) {
	for _, ix := range m.byID {
		if ix.removed {
			continue
		}
		switch msg.Type {
		case Insert:
			ix.add(msg.Key, msg.Value)
		case Update:
			ix.remove(msg.Key, msg.PreviousValue)
			ix.add(msg.Key, msg.Value)
		case Delete:
			ix.remove(msg.Key, msg.Value)
		}
	}
}

// Cleanup marks every index removed so in-flight async builds short-circuit,
// and drops the manager's own bookkeeping.
func (m *indexManager[T, K]) Cleanup() {
	for _, ix := range m.byID {
		ix.removed = true
	}
	m.bySignature = make(map[string]*Index[T, K])
	m.byID = make(map[int64]*Index[T, K])
}
