package collection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/livedb/txn"
)

type widget struct {
	ID    string
	Color string
}

func newSyncedCollection(t *testing.T) *Collection[widget, string] {
	t.Helper()
	var c = New(Options[widget, string]{
		ID:    "widgets",
		KeyOf: func(w widget) string { return w.ID },
	})
	t.Cleanup(c.Close)
	require.NoError(t, c.StartLoading())
	c.BeginPendingSync()
	require.NoError(t, c.WriteSync(WriteOp[widget, string]{Type: Insert, Key: "w1", Value: widget{ID: "w1", Color: "red"}}))
	require.NoError(t, c.CommitSync())
	require.NoError(t, c.MarkReady())
	return c
}

func TestStartLoadingThenSyncThenReady(t *testing.T) {
	var c = newSyncedCollection(t)
	require.True(t, c.IsReady())
	require.Equal(t, StatusReady, c.Status())

	v, ok := c.Get("w1")
	require.True(t, ok)
	require.Equal(t, "red", v.Color)
}

func TestApplyOptimisticIsVisibleBeforeSync(t *testing.T) {
	var c = newSyncedCollection(t)

	var tr = txn.New[widget, string](c)
	require.NoError(t, tr.Mutate(txn.Op[widget, string]{Kind: txn.Update, Key: "w1", Value: widget{ID: "w1", Color: "blue"}}))

	v, ok := c.Get("w1")
	require.True(t, ok)
	require.Equal(t, "blue", v.Color, "optimistic overlay must be visible before any sync round trip")
}

func TestSubscribeChangesDeliversInitialStateThenUpdates(t *testing.T) {
	var c = newSyncedCollection(t)

	var received []ChangeMessage[widget, string]
	var unsub = c.SubscribeChanges(func(batch ChangeBatch[widget, string]) {
		received = append(received, batch...)
	}, SubscribeOptions[widget, string]{IncludeInitialState: true})
	t.Cleanup(unsub)

	require.Eventually(t, func() bool { return len(received) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, Insert, received[0].Type)
	require.Equal(t, "w1", received[0].Key)

	c.BeginPendingSync()
	require.NoError(t, c.WriteSync(WriteOp[widget, string]{Type: Insert, Key: "w2", Value: widget{ID: "w2", Color: "green"}}))
	require.NoError(t, c.CommitSync())

	require.Eventually(t, func() bool { return len(received) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, "w2", received[1].Key)
}

func TestDiscardOptimisticRestoresSyncedValue(t *testing.T) {
	var c = newSyncedCollection(t)

	var tr = txn.New[widget, string](c)
	require.NoError(t, tr.Mutate(txn.Op[widget, string]{Kind: txn.Update, Key: "w1", Value: widget{ID: "w1", Color: "blue"}}))
	tr.Rollback()
	<-tr.Done()

	v, ok := c.Get("w1")
	require.True(t, ok)
	require.Equal(t, "red", v.Color)
}

func TestSetErroredTransitionsStatus(t *testing.T) {
	var c = newSyncedCollection(t)
	c.SetErrored(errors.New("adapter blew up"))
	require.Equal(t, StatusError, c.Status())
}

func TestCleanupThenReadAutoRestartsLoading(t *testing.T) {
	var c = newSyncedCollection(t)
	c.Cleanup()
	require.Equal(t, StatusCleanedUp, c.Status())

	require.False(t, c.Has("w1"))
	require.Equal(t, StatusLoading, c.Status())
}
