package collection

import "errors"

// Sync protocol errors (C1, C4) — see spec §7 "Sync protocol".
var (
	// ErrNoPendingSyncTransaction is returned by write/truncate/commit when
	// no beginPending() has been issued.
	ErrNoPendingSyncTransaction = errors.New("collection: write without a pending sync transaction")
	// ErrSyncTransactionAlreadyCommitted is returned when write is called
	// against a transaction that has already been committed.
	ErrSyncTransactionAlreadyCommitted = errors.New("collection: write after sync transaction commit")
	// ErrDuplicateKeySync is returned on an insert over an existing key
	// within the same pending sync transaction, unless preceded by a
	// delete of that key in the same transaction or the transaction is a
	// truncate.
	ErrDuplicateKeySync = errors.New("collection: duplicate key insert in sync transaction")
)

// errNotAnUpdate is returned by ChangeMessage.Patch for non-Update
// messages, which carry no PreviousValue to diff against.
var errNotAnUpdate = errors.New("collection: Patch is only defined for Update change messages")

// Lifecycle errors (C3) — see spec §7 "Lifecycle".
var (
	// ErrInvalidTransition is returned when a lifecycle method would move
	// the collection along an edge not present in the transition graph.
	ErrInvalidTransition = errors.New("collection: invalid lifecycle transition")
	// ErrCollectionErrored is returned by operations attempted against a
	// collection currently in the error state.
	ErrCollectionErrored = errors.New("collection: operation on errored collection")
	// ErrNegativeSubscriberCount guards an impossible internal state; it
	// should never surface in correct code and indicates a double-remove.
	ErrNegativeSubscriberCount = errors.New("collection: subscriber count went negative")
)

// TransitionError names the attempted (from, to) edge rejected by the
// lifecycle state machine (spec §4.3).
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return "collection: cannot transition from " + e.From.String() + " to " + e.To.String()
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
