// Package collection implements the reactive collection core: the change
// log and state store (C1), secondary indexes (C2), the lifecycle state
// machine (C3), and per-key/whole-collection subscription fanout (C6).
// Optimistic mutation (C5) is provided by package txn, which declares a
// narrow Target interface that *Collection satisfies structurally; this
// package imports txn for that interface's Mutation shape and for the
// transaction constructors behind its Insert/Update/Delete helpers, and txn
// never imports collection, keeping the dependency one-directional.
package collection

import (
	"sync"

	"github.com/google/uuid"

	"github.com/flowcore/livedb/ops"
	"github.com/flowcore/livedb/txn"
)

// job is one unit of work run on the Collection's single goroutine (spec §5
// "single-threaded cooperative"), directly modeled on the teacher's
// shuffle.ring select-loop: every public method builds a closure, sends it
// on cmdCh, and waits for it to run.
type job[T any, K comparable] func(*colState[T, K])

// colState is all mutable state touched only from the owning goroutine.
type colState[T any, K comparable] struct {
	store      *store[T, K]
	indexes    *indexManager[T, K]
	subs       *subscriptionManager[T, K]
	life       *lifecycle
	statusSubs map[int64]func(Status)
	nextSubID  int64
}

// Collection is a live, in-memory keyed set of records with optimistic
// mutation and synchronized base state (spec §3).
type Collection[T any, K comparable] struct {
	opts Options[T, K]
	log  ops.Logger

	cmdCh   chan job[T, K]
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Collection and starts its single event-loop goroutine.
func New[T any, K comparable](opts Options[T, K]) *Collection[T, K] {
	opts.setDefaults()
	var c = &Collection[T, K]{
		opts:    opts,
		log:     opts.Log,
		cmdCh:   make(chan job[T, K], 64),
		closeCh: make(chan struct{}),
	}

	var st = &colState[T, K]{
		store:      newStore[T, K](),
		indexes:    newIndexManager[T, K](opts.ID, opts.Metrics),
		subs:       newSubscriptionManager[T, K](opts.ID, opts.Metrics),
		life:       newLifecycle(opts.ID, *opts.GCTime, opts.Metrics, opts.Log),
		statusSubs: make(map[int64]func(Status)),
	}
	st.subs.onCountChange = func(count int) {
		if count == 0 {
			st.life.ArmGC(func() { c.enqueue(func(s *colState[T, K]) { c.performCleanup(s) }) })
		} else {
			st.life.CancelGC()
		}
	}

	c.wg.Add(1)
	go c.run(st)
	return c
}

func (c *Collection[T, K]) run(st *colState[T, K]) {
	defer c.wg.Done()
	for {
		select {
		case fn := <-c.cmdCh:
			fn(st)
		case <-c.closeCh:
			return
		}
	}
}

// enqueue runs fn on the owning goroutine and blocks until it has. Any
// operation against a collection whose loop has already stopped is a no-op,
// matching the intent of "operation on a cleaned-up collection auto-restarts
// sync" for reads -- stopping the loop is reserved for process shutdown, not
// normal cleanup.
func (c *Collection[T, K]) enqueue(fn job[T, K]) {
	var done = make(chan struct{})
	select {
	case c.cmdCh <- func(s *colState[T, K]) { fn(s); close(done) }:
		<-done
	case <-c.closeCh:
	}
}

// ID returns the collection's configured identifier.
func (c *Collection[T, K]) ID() string { return c.opts.ID }

func (c *Collection[T, K]) performCleanup(s *colState[T, K]) {
	if err := s.life.transition(StatusCleanedUp); err != nil {
		c.log.WithFields(map[string]interface{}{"err": err}).Warn("gc cleanup transition rejected")
		return
	}
	s.life.noteGCFired()
	s.indexes.Cleanup()
	s.subs.Cleanup()
	s.store = newStore[T, K]()
	for id, fn := range s.statusSubs {
		fn(StatusCleanedUp)
		delete(s.statusSubs, id)
	}
}

// --- public read surface (spec §6) ---

func (c *Collection[T, K]) Get(key K) (T, bool) {
	var val T
	var ok bool
	c.restartIfCleanedUp()
	c.enqueue(func(s *colState[T, K]) { val, ok = s.store.visibleState(key) })
	return val, ok
}

func (c *Collection[T, K]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *Collection[T, K]) Size() int {
	var n int
	c.enqueue(func(s *colState[T, K]) { n = s.store.Size() })
	return n
}

// ToArray returns every currently-visible value, in the order the source
// system presents a Map's values(): synced insertion order, followed by
// any keys that exist only in the optimistic overlay.
func (c *Collection[T, K]) ToArray() []T {
	var out []T
	c.enqueue(func(s *colState[T, K]) {
		for _, k := range c.orderedKeys(s) {
			if v, ok := s.store.visibleState(k); ok {
				out = append(out, v)
			}
		}
	})
	return out
}

// Entries returns (key, value) pairs in the same order as ToArray.
func (c *Collection[T, K]) Entries() []ChangeMessage[T, K] {
	// Reused as a plain (key, value) pair carrier; Type is meaningless here.
	var out []ChangeMessage[T, K]
	c.enqueue(func(s *colState[T, K]) {
		for _, k := range c.orderedKeys(s) {
			if v, ok := s.store.visibleState(k); ok {
				out = append(out, ChangeMessage[T, K]{Key: k, Value: v})
			}
		}
	})
	return out
}

func (c *Collection[T, K]) orderedKeys(s *colState[T, K]) []K {
	var seen = make(map[K]struct{})
	var keys []K
	for _, k := range s.store.synced.Keys() {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, txnID := range s.store.txnOrder {
		for _, m := range s.store.mutations[txnID] {
			if _, ok := seen[m.Key]; !ok {
				seen[m.Key] = struct{}{}
				keys = append(keys, m.Key)
			}
		}
	}
	return keys
}

func (c *Collection[T, K]) IsReady() bool {
	var ready bool
	c.enqueue(func(s *colState[T, K]) { ready = s.life.Status() == StatusReady })
	return ready
}

func (c *Collection[T, K]) Status() Status {
	var st Status
	c.enqueue(func(s *colState[T, K]) { st = s.life.Status() })
	return st
}

// --- subscriptions (C6) ---

// Unsubscribe detaches a subscriber previously returned by SubscribeChanges.
type Unsubscribe func()

func (c *Collection[T, K]) SubscribeChanges(handler ChangeHandler[T, K], opts SubscribeOptions[T, K]) Unsubscribe {
	var id int64
	c.enqueue(func(s *colState[T, K]) {
		var initial ChangeBatch[T, K]
		if opts.IncludeInitialState {
			for _, k := range c.orderedKeys(s) {
				v, ok := s.store.visibleState(k)
				if !ok || !opts.matches(k, v) {
					continue
				}
				initial = append(initial, insertMsg[T, K](k, v))
			}
		}
		id = s.subs.Add(opts, handler, initial)
	})
	return func() {
		c.enqueue(func(s *colState[T, K]) { s.subs.Remove(id) })
	}
}

// FlushBatched delivers every batched subscriber's pending changes.
func (c *Collection[T, K]) FlushBatched() {
	c.enqueue(func(s *colState[T, K]) { s.subs.Flush() })
}

// OnStatusChange registers a callback invoked on every lifecycle
// transition (spec §6 `on('status:change', ...)`).
func (c *Collection[T, K]) OnStatusChange(fn func(Status)) Unsubscribe {
	var id int64
	c.enqueue(func(s *colState[T, K]) {
		s.nextSubID++
		id = s.nextSubID
		s.statusSubs[id] = fn
	})
	return func() {
		c.enqueue(func(s *colState[T, K]) { delete(s.statusSubs, id) })
	}
}

// --- indexes (C2) ---

// EnsureIndex returns the index matching spec, building (or launching an
// async build of) it if necessary.
func (c *Collection[T, K]) EnsureIndex(spec IndexSpec[T, K]) *Index[T, K] {
	var ix *Index[T, K]
	c.enqueue(func(s *colState[T, K]) {
		var rows = make(map[K]T)
		var keys []K
		for _, k := range c.orderedKeys(s) {
			if v, ok := s.store.visibleState(k); ok {
				rows[k] = v
				keys = append(keys, k)
			}
		}
		ix = s.indexes.Ensure(spec, rows, keys, func(res asyncBuildResult[T, K]) {
			c.enqueue(func(s2 *colState[T, K]) { s2.indexes.CompleteAsync(res) })
		})
	})
	return ix
}

// --- sync ingestion driver methods (consumed by package sync, spec §4.4) ---

func (c *Collection[T, K]) BeginPendingSync() {
	c.enqueue(func(s *colState[T, K]) { s.store.BeginPending() })
}

func (c *Collection[T, K]) WriteSync(op WriteOp[T, K]) error {
	var err error
	c.enqueue(func(s *colState[T, K]) { err = s.store.Write(op) })
	return err
}

func (c *Collection[T, K]) TruncateSync() error {
	var err error
	c.enqueue(func(s *colState[T, K]) { err = s.store.Truncate() })
	return err
}

func (c *Collection[T, K]) CommitSync() error {
	var batch ChangeBatch[T, K]
	var err error
	c.enqueue(func(s *colState[T, K]) {
		batch, err = s.store.Commit()
		if err == nil {
			c.publish(s, batch)
			if s.life.Status() == StatusLoading {
				_ = s.life.transition(StatusInitialCommit)
			}
		}
	})
	return err
}

func (c *Collection[T, K]) MarkReady() error {
	var err error
	c.enqueue(func(s *colState[T, K]) {
		err = s.life.MarkReady()
		if err == nil {
			for _, fn := range s.statusSubs {
				fn(StatusReady)
			}
		}
	})
	return err
}

// SetErrored transitions the collection to the error state (spec §7
// "errors inside a sync handler transition the collection to error").
func (c *Collection[T, K]) SetErrored(cause error) {
	c.enqueue(func(s *colState[T, K]) {
		if err := s.life.transition(StatusError); err != nil {
			return
		}
		c.log.WithFields(map[string]interface{}{"err": cause}).Error("collection entered error state")
		for _, fn := range s.statusSubs {
			fn(StatusError)
		}
	})
}

// StartLoading transitions idle -> loading; sync adapters call this before
// their first write.
func (c *Collection[T, K]) StartLoading() error {
	var err error
	c.enqueue(func(s *colState[T, K]) { err = s.life.transition(StatusLoading) })
	return err
}

func (c *Collection[T, K]) restartIfCleanedUp() {
	c.enqueue(func(s *colState[T, K]) {
		if s.life.Status() == StatusCleanedUp {
			_ = s.life.transition(StatusLoading)
		}
	})
}

// Cleanup tears the collection down immediately, bypassing the GC timer
// (spec §6 cleanup()).
func (c *Collection[T, K]) Cleanup() {
	c.enqueue(func(s *colState[T, K]) { c.performCleanup(s) })
}

// Close stops the collection's event loop permanently. Unlike Cleanup, a
// closed collection cannot auto-restart; it's for process shutdown.
func (c *Collection[T, K]) Close() {
	close(c.closeCh)
	c.wg.Wait()
}

func (c *Collection[T, K]) publish(s *colState[T, K], batch ChangeBatch[T, K]) {
	if len(batch) == 0 {
		return
	}
	for _, msg := range batch {
		s.indexes.ApplyChange(msg)
	}
	s.subs.Dispatch(batch)
	if c.opts.Metrics != nil {
		c.opts.Metrics.CollectionSize.WithLabelValues(c.opts.ID).Set(float64(s.store.Size()))
	}
}

// --- optimistic-mutation target methods (consumed by package txn, spec §4.5) ---

// ApplyOptimistic records one optimistic mutation under txnID and
// publishes the resulting change immediately. The parameter type is
// txn.Mutation, not this package's own Mutation, so that *Collection
// satisfies txn.Target[T, K] exactly; it's converted to the store's
// native Mutation before being applied.
func (c *Collection[T, K]) ApplyOptimistic(txnID string, m txn.Mutation[T, K]) {
	c.enqueue(func(s *colState[T, K]) {
		var native = Mutation[T, K]{Type: ChangeType(m.Type), Key: m.Key, Value: m.Value}
		if msg, ok := s.store.ApplyOptimistic(txnID, native); ok {
			c.publish(s, ChangeBatch[T, K]{msg})
		}
	})
}

// DiscardOptimistic removes txnID's overlay (failed/rolled-back transaction).
func (c *Collection[T, K]) DiscardOptimistic(txnID string) {
	c.enqueue(func(s *colState[T, K]) {
		c.publish(s, s.store.DiscardOptimistic(txnID))
	})
}

// ReleaseOptimistic drops txnID's overlay because it has been durably synced.
func (c *Collection[T, K]) ReleaseOptimistic(txnID string) {
	c.enqueue(func(s *colState[T, K]) {
		c.publish(s, s.store.ReleaseOptimistic(txnID))
	})
}

// BeginPersisting marks a user transaction as entering its persisting
// phase, holding back any sync commits that land in the meantime (spec §4.5).
func (c *Collection[T, K]) BeginPersisting() {
	c.enqueue(func(s *colState[T, K]) { s.store.BeginPersisting() })
}

// EndPersisting ends a user transaction's persisting phase and, if it was
// the last one, drains any retained synced commits.
func (c *Collection[T, K]) EndPersisting() {
	c.enqueue(func(s *colState[T, K]) {
		c.publish(s, s.store.EndPersisting())
	})
}

// NewTxnID mints a unique transaction id (spec §3 Transaction).
func NewTxnID() string {
	return uuid.NewString()
}
