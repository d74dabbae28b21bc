package collection

// WriteOp is what a sync adapter hands to write(): the adapter supplies
// the record's type, its key and its value (for deletes the value may be
// left zero). The store uses Key as given -- it does not derive it via
// keyOf -- and fills in PreviousValue itself from whatever it currently
// considers visible for that key.
type WriteOp[T any, K comparable] struct {
	Type  ChangeType
	Key   K
	Value T
}

type txnCell[T any] struct {
	value   T
	deleted bool
}

// pendingSyncTxn is one entry of spec §3's `pendingSyncedTransactions`.
type pendingSyncTxn[T any, K comparable] struct {
	committed bool
	truncate  bool

	operations   []ChangeMessage[T, K]
	insertedKeys map[K]struct{} // keys inserted (and not since re-deleted) this txn
	deletedKeys  map[K]struct{}
	local        map[K]txnCell[T] // txn-scoped overlay, for computing previousValue mid-transaction
}

func newPendingSyncTxn[T any, K comparable]() *pendingSyncTxn[T, K] {
	return &pendingSyncTxn[T, K]{
		insertedKeys: make(map[K]struct{}),
		deletedKeys:  make(map[K]struct{}),
		local:        make(map[K]txnCell[T]),
	}
}

// currentValue resolves what this transaction, so far, considers the value
// at key to be: its own local overlay first, falling back to the real
// synced base unless this transaction has truncated (in which case the base
// is about to be wiped and must not be consulted).
func (p *pendingSyncTxn[T, K]) currentValue(base *orderedMap[K, T], key K) (T, bool) {
	if cell, ok := p.local[key]; ok {
		if cell.deleted {
			var zero T
			return zero, false
		}
		return cell.value, true
	}
	if p.truncate {
		var zero T
		return zero, false
	}
	return base.Get(key)
}

// store is the C1 Change Log & State Store: the authoritative synced base
// plus the bookkeeping needed to replay pending sync transactions and
// compose the optimistic overlay over it (spec §4.1, §4.5).
type store[T any, K comparable] struct {
	synced     *orderedMap[K, T]
	syncedMeta map[K]any

	pending []*pendingSyncTxn[T, K]

	// optimistic overlay (C5): mutations grouped by transaction id, applied
	// in txnOrder for deterministic composition (spec §3 invariant 1).
	txnOrder  []string
	mutations map[string][]Mutation[T, K]

	persistingCount int
}

// Mutation is one optimistic write within a user Transaction (spec §3
// "Transaction: ordered mutations {type, key, value, previousValue?}"; we
// recompute previousValue from the overlay rather than store it, since it
// depends on composition order).
type Mutation[T any, K comparable] struct {
	Type  ChangeType
	Key   K
	Value T
}

func newStore[T any, K comparable]() *store[T, K] {
	return &store[T, K]{
		synced:     newOrderedMap[K, T](),
		syncedMeta: make(map[K]any),
		mutations:  make(map[string][]Mutation[T, K]),
	}
}

// --- sync ingestion protocol (C1, C4) ---

func (s *store[T, K]) current() *pendingSyncTxn[T, K] {
	if len(s.pending) == 0 {
		return nil
	}
	var last = s.pending[len(s.pending)-1]
	if last.committed {
		return nil
	}
	return last
}

func (s *store[T, K]) BeginPending() *pendingSyncTxn[T, K] {
	var txn = newPendingSyncTxn[T, K]()
	s.pending = append(s.pending, txn)
	return txn
}

func (s *store[T, K]) Write(op WriteOp[T, K]) error {
	var txn = s.current()
	if txn == nil {
		return ErrNoPendingSyncTransaction
	}

	switch op.Type {
	case Insert:
		if !txn.truncate {
			if _, dup := txn.insertedKeys[op.Key]; dup {
				return ErrDuplicateKeySync
			}
		}
		txn.insertedKeys[op.Key] = struct{}{}
		delete(txn.deletedKeys, op.Key)
		txn.local[op.Key] = txnCell[T]{value: op.Value}
		txn.operations = append(txn.operations, insertMsg[T, K](op.Key, op.Value))

	case Update:
		var previous, _ = txn.currentValue(s.synced, op.Key)
		txn.local[op.Key] = txnCell[T]{value: op.Value}
		txn.operations = append(txn.operations, updateMsg[T, K](op.Key, op.Value, previous))

	case Delete:
		var previous, _ = txn.currentValue(s.synced, op.Key)
		delete(txn.insertedKeys, op.Key)
		txn.deletedKeys[op.Key] = struct{}{}
		txn.local[op.Key] = txnCell[T]{deleted: true}
		txn.operations = append(txn.operations, deleteMsg[T, K](op.Key, previous))
	}
	return nil
}

// Truncate marks the current pending transaction as truncating and clears
// its buffered operations (spec §4.1).
func (s *store[T, K]) Truncate() error {
	var txn = s.current()
	if txn == nil {
		return ErrNoPendingSyncTransaction
	}
	txn.truncate = true
	txn.operations = txn.operations[:0]
	txn.insertedKeys = make(map[K]struct{})
	txn.deletedKeys = make(map[K]struct{})
	txn.local = make(map[K]txnCell[T])
	return nil
}

// Commit marks the current pending transaction committed. If no user
// transaction is persisting, it is applied immediately and the resulting
// batch returned; otherwise it's retained (spec §4.1, §4.5) and nil is
// returned -- the caller must later call DrainRetained once persisting
// ends.
func (s *store[T, K]) Commit() (ChangeBatch[T, K], error) {
	var txn = s.current()
	if txn == nil {
		return nil, ErrSyncTransactionAlreadyCommitted
	}
	txn.committed = true

	if s.persistingCount > 0 {
		return nil, nil
	}
	return s.applyAndDequeue(), nil
}

// applyAndDequeue applies every committed, not-yet-applied transaction at
// the front of the pending queue, in order, stopping at the first
// uncommitted one.
func (s *store[T, K]) applyAndDequeue() ChangeBatch[T, K] {
	var batch ChangeBatch[T, K]
	var i = 0
	for ; i < len(s.pending) && s.pending[i].committed; i++ {
		batch = append(batch, s.apply(s.pending[i])...)
	}
	s.pending = s.pending[i:]
	return batch
}

// DrainRetained applies every committed transaction that was held back
// while a user transaction was persisting (spec §4.5).
func (s *store[T, K]) DrainRetained() ChangeBatch[T, K] {
	return s.applyAndDequeue()
}

func (s *store[T, K]) BeginPersisting() { s.persistingCount++ }

// EndPersisting decrements the persisting count and, if it has returned to
// zero, drains any retained synced commits.
func (s *store[T, K]) EndPersisting() ChangeBatch[T, K] {
	if s.persistingCount > 0 {
		s.persistingCount--
	}
	if s.persistingCount == 0 {
		return s.DrainRetained()
	}
	return nil
}

func (s *store[T, K]) apply(txn *pendingSyncTxn[T, K]) ChangeBatch[T, K] {
	if txn.truncate {
		return s.applyTruncate(txn)
	}
	var batch = make(ChangeBatch[T, K], 0, len(txn.operations))
	for _, msg := range txn.operations {
		switch msg.Type {
		case Insert:
			s.synced.Set(msg.Key, msg.Value)
		case Update:
			s.synced.Set(msg.Key, msg.Value)
		case Delete:
			s.synced.Delete(msg.Key)
		}
		batch = append(batch, msg)
	}
	return batch
}

func (s *store[T, K]) applyTruncate(txn *pendingSyncTxn[T, K]) ChangeBatch[T, K] {
	// Snapshot overlay-active keys' visibility before mutating the base, so
	// we can emit corrective messages once the overlay is re-applied atop
	// the new base (spec §4.1 "re-applies optimistic overlay in a single
	// observable batch").
	var overlayKeys = s.overlayActiveKeys()
	var before = make(map[K]T, len(overlayKeys))
	var hadBefore = make(map[K]bool, len(overlayKeys))
	for _, k := range overlayKeys {
		v, ok := s.visibleState(k)
		hadBefore[k] = ok
		if ok {
			before[k] = v
		}
	}

	var batch ChangeBatch[T, K]
	var touched = make(map[K]struct{})

	for _, k := range append([]K(nil), s.synced.Keys()...) {
		v, _ := s.synced.Get(k)
		_, masked := hadBefore[k]
		// Masked iff an active optimistic mutation already hides this key
		// (the key has base data, but overlay says it's not visible).
		maskedByOverlay := masked && !hadBefore[k]
		if !maskedByOverlay {
			batch = append(batch, deleteMsg[T, K](k, v))
		}
		s.synced.Delete(k)
		touched[k] = struct{}{}
	}

	for _, msg := range txn.operations {
		switch msg.Type {
		case Insert:
			s.synced.Set(msg.Key, msg.Value)
		case Update:
			s.synced.Set(msg.Key, msg.Value)
		case Delete:
			s.synced.Delete(msg.Key)
		}
		batch = append(batch, msg)
		touched[msg.Key] = struct{}{}
	}

	for _, k := range overlayKeys {
		if _, done := touched[k]; done {
			continue
		}
		newVal, hasNew := s.visibleState(k)
		hadOld := hadBefore[k]
		oldVal := before[k]
		switch {
		case !hadOld && hasNew:
			batch = append(batch, insertMsg[T, K](k, newVal))
		case hadOld && !hasNew:
			batch = append(batch, deleteMsg[T, K](k, oldVal))
		case hadOld && hasNew && !valuesEqual(oldVal, newVal):
			batch = append(batch, updateMsg[T, K](k, newVal, oldVal))
		}
	}

	return batch
}

func (s *store[T, K]) overlayActiveKeys() []K {
	var seen = make(map[K]struct{})
	var keys []K
	for _, txnID := range s.txnOrder {
		for _, m := range s.mutations[txnID] {
			if _, ok := seen[m.Key]; !ok {
				seen[m.Key] = struct{}{}
				keys = append(keys, m.Key)
			}
		}
	}
	return keys
}

// --- reads ---

// visibleState composes the overlay atop the synced base (spec §3
// invariant 1): visibleState(K) = applyOverlay(syncedData)(K).
func (s *store[T, K]) visibleState(key K) (T, bool) {
	var value, ok = s.synced.Get(key)
	for _, txnID := range s.txnOrder {
		for _, m := range s.mutations[txnID] {
			if m.Key != key {
				continue
			}
			switch m.Type {
			case Insert, Update:
				value, ok = m.Value, true
			case Delete:
				var zero T
				value, ok = zero, false
			}
		}
	}
	return value, ok
}

func (s *store[T, K]) Size() int {
	var seen = make(map[K]struct{}, s.synced.Len())
	var count int
	s.synced.Each(func(k K, _ T) {
		seen[k] = struct{}{}
	})
	for _, txnID := range s.txnOrder {
		for _, m := range s.mutations[txnID] {
			seen[m.Key] = struct{}{}
		}
	}
	for k := range seen {
		if _, ok := s.visibleState(k); ok {
			count++
		}
	}
	return count
}

func valuesEqual[T any](a, b T) bool {
	return deepEqual(a, b)
}
