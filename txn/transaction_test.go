package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTarget[T any, K comparable] struct {
	mu               sync.Mutex
	applied          []Mutation[T, K]
	discarded        []string
	released         []string
	persistingCalls  int
	endPersistCalls  int
}

func (f *fakeTarget[T, K]) ApplyOptimistic(txnID string, m Mutation[T, K]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, m)
}

func (f *fakeTarget[T, K]) DiscardOptimistic(txnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, txnID)
}

func (f *fakeTarget[T, K]) ReleaseOptimistic(txnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, txnID)
}

func (f *fakeTarget[T, K]) BeginPersisting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistingCalls++
}

func (f *fakeTarget[T, K]) EndPersisting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endPersistCalls++
}

func TestMutateAppliesOptimisticallyBeforeCommit(t *testing.T) {
	var target = &fakeTarget[string, string]{}
	var tx = New[string, string](target)

	require.NoError(t, tx.Mutate(Op[string, string]{Kind: Insert, Key: "k1", Value: "v1"}))
	require.Equal(t, Pending, tx.Status())
	require.Len(t, target.applied, 1)
	require.Equal(t, "k1", target.applied[0].Key)
}

func TestCommitSucceedsReleasesOverlayAfterSyncAck(t *testing.T) {
	var target = &fakeTarget[string, string]{}
	var tx = New[string, string](target)
	require.NoError(t, tx.Mutate(Op[string, string]{Kind: Insert, Key: "k1", Value: "v1"}))

	var syncAck = make(chan struct{})
	tx.Commit(context.Background(), func(ctx context.Context, ops []Op[string, string]) error {
		require.Len(t, ops, 1)
		return nil
	}, syncAck)

	require.Eventually(t, func() bool { return tx.Status() == Persisting }, time.Second, time.Millisecond)

	target.mu.Lock()
	var persistingBefore = target.persistingCalls
	target.mu.Unlock()
	require.Equal(t, 1, persistingBefore)

	close(syncAck)
	<-tx.Done()

	require.Equal(t, Completed, tx.Status())
	require.Equal(t, []string{tx.ID}, target.released)
	require.Equal(t, 1, target.endPersistCalls)
}

func TestCommitFailureDiscardsOverlay(t *testing.T) {
	var target = &fakeTarget[string, string]{}
	var tx = New[string, string](target)
	require.NoError(t, tx.Mutate(Op[string, string]{Kind: Insert, Key: "k1", Value: "v1"}))

	var wantErr = errors.New("boom")
	tx.Commit(context.Background(), func(ctx context.Context, ops []Op[string, string]) error {
		return wantErr
	}, nil)

	<-tx.Done()
	require.Equal(t, Failed, tx.Status())
	require.ErrorIs(t, tx.Err(), wantErr)
	require.Equal(t, []string{tx.ID}, target.discarded)
}

func TestRollbackDiscardsPendingTransaction(t *testing.T) {
	var target = &fakeTarget[string, string]{}
	var tx = New[string, string](target)
	require.NoError(t, tx.Mutate(Op[string, string]{Kind: Insert, Key: "k1", Value: "v1"}))

	tx.Rollback()
	<-tx.Done()
	require.Equal(t, Failed, tx.Status())
	require.Equal(t, []string{tx.ID}, target.discarded)
}

func TestMutateAfterCommitIsRejected(t *testing.T) {
	var target = &fakeTarget[string, string]{}
	var tx = New[string, string](target)
	require.NoError(t, tx.Mutate(Op[string, string]{Kind: Insert, Key: "k1", Value: "v1"}))

	tx.Commit(context.Background(), func(ctx context.Context, ops []Op[string, string]) error { return nil }, nil)
	<-tx.Done()

	require.Error(t, tx.Mutate(Op[string, string]{Kind: Update, Key: "k1", Value: "v2"}))
}
