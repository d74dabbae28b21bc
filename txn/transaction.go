// Package txn implements optimistic mutation and user-level transactions
// (spec §4.5, component C5): a Transaction composes an overlay over a
// collection's synced base, persists via an application-supplied handler,
// and reconciles (commits or rolls back) the overlay based on that
// handler's outcome.
//
// Package txn depends on nothing from package collection; it is generic
// over a narrow Target interface that *collection.Collection satisfies
// structurally (see that package's ApplyOptimistic/DiscardOptimistic/
// ReleaseOptimistic/BeginPersisting/EndPersisting methods). This keeps the
// dependency one-directional: package collection imports package txn to
// offer Insert/Update/Delete convenience constructors, txn never imports
// collection.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Kind mirrors collection.ChangeType without importing it (see package doc).
type Kind int

const (
	Insert Kind = iota
	Update
	Delete
)

// Op is a single optimistic write queued on a Transaction.
type Op[T any, K comparable] struct {
	Kind  Kind
	Key   K
	Value T
}

// Target is what a Transaction needs from the collection it mutates.
// *collection.Collection[T, K] implements this interface.
type Target[T any, K comparable] interface {
	ApplyOptimistic(txnID string, m Mutation[T, K])
	DiscardOptimistic(txnID string)
	ReleaseOptimistic(txnID string)
	BeginPersisting()
	EndPersisting()
}

// Mutation is the overlay-facing shape of an Op; kept distinct from Op so
// that Target implementations (collection.Mutation) line up field-for-field
// without this package needing to import collection's ChangeType.
type Mutation[T any, K comparable] struct {
	Type  int // 0=insert,1=update,2=delete -- matches collection.ChangeType ordinals
	Key   K
	Value T
}

// Status is the transaction lifecycle state (spec §4.5: "pending ->
// persisting -> {completed, failed}").
type Status int

const (
	Pending Status = iota
	Persisting
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Persisting:
		return "persisting"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler persists a transaction's accumulated ops; it is the collection's
// onInsert/onUpdate/onDelete surface collapsed into one call, since a
// Transaction may batch several mutations before committing.
type Handler[T any, K comparable] func(ctx context.Context, ops []Op[T, K]) error

// Transaction is a single optimistic, user-level transaction (spec §4.5).
type Transaction[T any, K comparable] struct {
	ID     string
	target Target[T, K]

	mu     sync.Mutex
	ops    []Op[T, K]
	status Status
	err    error
	done   chan struct{}
}

// New opens a transaction against target. Mutate must be called at least
// once before Commit for the transaction to have any effect.
func New[T any, K comparable](target Target[T, K]) *Transaction[T, K] {
	return &Transaction[T, K]{
		ID:     uuid.NewString(),
		target: target,
		status: Pending,
		done:   make(chan struct{}),
	}
}

// Mutate appends op to the transaction and immediately applies it to the
// collection's optimistic overlay, so reads observe it before any
// persistence round trip (spec §4.5 "reads always see the overlay").
func (t *Transaction[T, K]) Mutate(op Op[T, K]) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Pending {
		return fmt.Errorf("txn: cannot mutate a transaction in state %s", t.status)
	}
	t.ops = append(t.ops, op)
	t.target.ApplyOptimistic(t.ID, Mutation[T, K]{Type: int(op.Kind), Key: op.Key, Value: op.Value})
	return nil
}

// Status returns the transaction's current lifecycle state.
func (t *Transaction[T, K]) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the failure reason, if any, once Status is Failed.
func (t *Transaction[T, K]) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the transaction reaches Completed or Failed.
func (t *Transaction[T, K]) Done() <-chan struct{} { return t.done }

// Commit persists the transaction's accumulated ops via handler. It
// transitions to Persisting immediately (holding back dependent sync
// commits via target.BeginPersisting, spec §4.5) and asynchronously
// resolves to Completed or Failed once handler returns.
//
// syncAck, if non-nil, is awaited after handler succeeds before the overlay
// is released, preventing the "flicker" spec §4.5/S2 describes: it should
// resolve once the sync adapter has observably delivered this
// transaction's writes back in.
func (t *Transaction[T, K]) Commit(ctx context.Context, handler Handler[T, K], syncAck <-chan struct{}) {
	t.mu.Lock()
	if t.status != Pending {
		t.mu.Unlock()
		return
	}
	t.status = Persisting
	var ops = append([]Op[T, K](nil), t.ops...)
	t.mu.Unlock()

	t.target.BeginPersisting()

	go func() {
		var err = handler(ctx, ops)

		t.mu.Lock()
		if err != nil {
			t.status = Failed
			t.err = err
			t.mu.Unlock()

			t.target.DiscardOptimistic(t.ID)
			t.target.EndPersisting()
			close(t.done)
			return
		}
		t.mu.Unlock()

		if syncAck != nil {
			select {
			case <-syncAck:
			case <-ctx.Done():
			}
		}

		t.mu.Lock()
		t.status = Completed
		t.mu.Unlock()

		t.target.ReleaseOptimistic(t.ID)
		t.target.EndPersisting()
		close(t.done)
	}()
}

// Rollback aborts a still-pending transaction, discarding its overlay
// atomically (spec §5 "Aborting a user transaction removes its overlay
// atomically").
func (t *Transaction[T, K]) Rollback() {
	t.mu.Lock()
	if t.status != Pending {
		t.mu.Unlock()
		return
	}
	t.status = Failed
	t.mu.Unlock()

	t.target.DiscardOptimistic(t.ID)
	close(t.done)
}
