// Package persistadapter is an in-memory reference implementation of the
// §6 persistence adapter contract (applyCommittedTx, loadSubset,
// pullSince), used only by this repo's own tests. It is not a concrete
// product adapter -- SQLite/rocksdb-backed
// persistence is explicitly out of scope (spec §1 Non-goals) -- but it
// makes the schema-mismatch policies and scenario S6 exercisable without
// an external store (spec §4.12).
package persistadapter

import (
	"fmt"
	"sort"
	"sync"
)

// SchemaPolicy names one of the three schema-mismatch resolutions spec §6
// defines for persisted collections.
type SchemaPolicy string

const (
	SyncPresentReset SchemaPolicy = "sync-present-reset"
	SyncAbsentError  SchemaPolicy = "sync-absent-error"
	Reset            SchemaPolicy = "reset"
)

// DefaultPolicy picks sync-present-reset when the collection declares a
// sync source, else sync-absent-error (spec §6 "Default: if the
// collection declares a sync source, use sync-present-reset; otherwise
// sync-absent-error").
func DefaultPolicy(hasSyncSource bool) SchemaPolicy {
	if hasSyncSource {
		return SyncPresentReset
	}
	return SyncAbsentError
}

// MutationKind mirrors collection.ChangeType's ordinals without importing
// that package, keeping this adapter independent of the in-memory engine
// it serves (a real adapter lives outside the module entirely).
type MutationKind int

const (
	Insert MutationKind = iota
	Update
	Delete
)

// Mutation is one row-level write within a committed transaction.
type Mutation struct {
	Type  MutationKind
	Key   string
	Value any
}

// CommittedTx is the unit applyCommittedTx and pullSince exchange (spec
// §6 "applyCommittedTx(collectionId, {txId, term, seq, rowVersion,
// mutations[]})").
type CommittedTx struct {
	TxID       string
	Term       int64
	Seq        int64
	RowVersion int64
	Mutations  []Mutation
}

// Row is one persisted record returned by LoadSubset.
type Row struct {
	Key        string
	Value      any
	RowVersion int64
}

// LoadSubsetQuery mirrors spec §6's loadSubset parameters.
type LoadSubsetQuery struct {
	Where     func(any) bool
	OrderBy   []string
	Limit     int
	Offset    int
	MinValues []any
}

// ErrSchemaMismatch is returned by Open under sync-absent-error when the
// requested schema version doesn't match what's persisted (spec §8 S6
// "loadSubset fails with Schema version mismatch").
type ErrSchemaMismatch struct {
	CollectionID             string
	PersistedVersion, Wanted int
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("persistadapter: schema version mismatch for %q: persisted=%d wanted=%d",
		e.CollectionID, e.PersistedVersion, e.Wanted)
}

type collectionState struct {
	schemaVersion int
	rows          map[string]Row
	txLog         []CommittedTx
}

// Adapter is the in-memory store backing every registered collection.
type Adapter struct {
	mu          sync.Mutex
	collections map[string]*collectionState
}

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{collections: make(map[string]*collectionState)}
}

// Open resolves a collection's schema state against wantedVersion per
// policy (spec §6 "Schema mismatch policies (persisted): sync-present-reset
// | sync-absent-error | reset"). It must be called before the collection's
// first ApplyCommittedTx/LoadSubset in a given process run.
func (a *Adapter) Open(collectionID string, wantedVersion int, policy SchemaPolicy) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var existing, ok = a.collections[collectionID]
	if !ok {
		a.collections[collectionID] = &collectionState{schemaVersion: wantedVersion, rows: make(map[string]Row)}
		return nil
	}
	if existing.schemaVersion == wantedVersion {
		return nil
	}

	switch policy {
	case SyncAbsentError:
		return &ErrSchemaMismatch{CollectionID: collectionID, PersistedVersion: existing.schemaVersion, Wanted: wantedVersion}
	case SyncPresentReset, Reset:
		a.collections[collectionID] = &collectionState{schemaVersion: wantedVersion, rows: make(map[string]Row)}
		return nil
	default:
		return fmt.Errorf("persistadapter: unknown schema policy %q", policy)
	}
}

// ApplyCommittedTx durably applies tx's mutations and appends it to the
// collection's tx log (consumed by PullSince).
func (a *Adapter) ApplyCommittedTx(collectionID string, tx CommittedTx) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var state, ok = a.collections[collectionID]
	if !ok {
		return fmt.Errorf("persistadapter: collection %q not opened", collectionID)
	}

	for _, m := range tx.Mutations {
		switch m.Type {
		case Insert, Update:
			state.rows[m.Key] = Row{Key: m.Key, Value: m.Value, RowVersion: tx.RowVersion}
		case Delete:
			delete(state.rows, m.Key)
		}
	}
	state.txLog = append(state.txLog, tx)
	return nil
}

// LoadSubset returns rows matching q, ordered and paginated per its
// Where/OrderBy/MinValues/Limit/Offset fields. Ordering and cursoring are
// applied over Key for this reference adapter's purposes -- a concrete
// adapter would order by the declared orderBy columns on the actual
// record.
func (a *Adapter) LoadSubset(collectionID string, q LoadSubsetQuery) ([]Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var state, ok = a.collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("persistadapter: collection %q not opened", collectionID)
	}

	var rows = make([]Row, 0, len(state.rows))
	for _, r := range state.rows {
		if q.Where != nil && !q.Where(r.Value) {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	if len(q.MinValues) == 1 {
		if cursor, ok := q.MinValues[0].(string); ok {
			var filtered = rows[:0:0]
			for _, r := range rows {
				if r.Key > cursor {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}
	}

	var lo = q.Offset
	if lo > len(rows) {
		lo = len(rows)
	}
	var hi = len(rows)
	if q.Limit > 0 && lo+q.Limit < hi {
		hi = lo + q.Limit
	}
	return rows[lo:hi], nil
}

// PullSince returns every committed transaction with RowVersion strictly
// greater than fromRowVersion, in application order (spec §6 "pullSince
// (collectionId, fromRowVersion) -> ordered change list (optional)").
func (a *Adapter) PullSince(collectionID string, fromRowVersion int64) ([]CommittedTx, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var state, ok = a.collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("persistadapter: collection %q not opened", collectionID)
	}

	var out []CommittedTx
	for _, tx := range state.txLog {
		if tx.RowVersion > fromRowVersion {
			out = append(out, tx)
		}
	}
	return out, nil
}
