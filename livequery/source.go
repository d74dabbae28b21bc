// Package livequery implements the live query runtime (C9), the
// transaction-scoped scheduler (C10), and the windowing/lazy-load
// protocol (C11) described in spec §4.9-§4.11: a live query's result is
// itself a collection.Collection, incrementally maintained by running a
// dataflow.Graph over per-alias source subscriptions.
package livequery

import (
	"fmt"

	"github.com/flowcore/livedb/collection"
	"github.com/flowcore/livedb/dataflow"
)

// Source is the type-erased per-alias subscription surface the runtime
// needs; CollectionSource adapts a concrete *collection.Collection[T, K]
// to it, which is how this package avoids needing one generic instance
// per distinct source record type in the same query tree (spec §4.7
// "supporting self-join: same collection under multiple aliases" even
// demands the *same* concrete collection be wrapped twice, under two
// aliases).
type Source interface {
	Alias() string
	// Subscribe attaches onChange and returns an unsubscribe func; onChange
	// is invoked with the alias's dataflow-ready deltas, batched per
	// effective change the way collection.ChangeHandler delivers them.
	Subscribe(onChange func([]dataflow.Change)) (unsubscribe func())
	IsReady() bool
	SetWindow(offset, limit int) // no-op if the source doesn't support loadSubset
}

// CollectionSource adapts a *collection.Collection[T, K] to Source under
// a fixed alias, converting ChangeMessage[T, K] batches into
// dataflow.Change values keyed by fmt.Sprint(key) (the dataflow graph
// only needs a string key per row, not the concrete K).
type CollectionSource[T any, K comparable] struct {
	alias string
	coll  *collection.Collection[T, K]
	opts  collection.SubscribeOptions[T, K]
}

// NewCollectionSource wraps coll under alias, with opts controlling the
// subscription's where/whereExpression pushdown (spec §4.9 "for each
// alias ... a distinct subscription is opened with its own pushdown
// filter / orderBy hint").
func NewCollectionSource[T any, K comparable](alias string, coll *collection.Collection[T, K], opts collection.SubscribeOptions[T, K]) *CollectionSource[T, K] {
	return &CollectionSource[T, K]{alias: alias, coll: coll, opts: opts}
}

func (s *CollectionSource[T, K]) Alias() string { return s.alias }

func (s *CollectionSource[T, K]) Subscribe(onChange func([]dataflow.Change)) func() {
	var unsub = s.coll.SubscribeChanges(func(batch collection.ChangeBatch[T, K]) {
		var out = make([]dataflow.Change, 0, len(batch))
		for _, msg := range batch {
			out = append(out, dataflow.Change{
				Type:  dataflow.ChangeType(msg.Type),
				Key:   fmt.Sprint(msg.Key),
				Value: msg.Value,
			})
		}
		onChange(out)
	}, s.opts)
	return unsub
}

func (s *CollectionSource[T, K]) IsReady() bool { return s.coll.IsReady() }

// SetWindow is a no-op here; a source collection that actually supports
// loadSubset (a persisted/remote collection with a registered sync
// adapter, spec §4.11) would forward this to that adapter. An in-memory
// collection.Collection has no pagination to push to, so this exists for
// interface symmetry only.
func (s *CollectionSource[T, K]) SetWindow(offset, limit int) {}
