package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/livedb/txn"
)

func TestInsertOpensTransactionVisibleBeforeCommit(t *testing.T) {
	var c = newSyncedCollection(t)

	var tr, err = c.Insert(widget{ID: "w2", Color: "green"})
	require.NoError(t, err)
	require.True(t, c.Has("w2"))

	tr.Commit(context.Background(), func(ctx context.Context, ops []txn.Op[widget, string]) error {
		return nil
	}, nil)
	<-tr.Done()
}

func TestUpdateAndDeleteConvenienceConstructors(t *testing.T) {
	var c = newSyncedCollection(t)

	var updateTxn, err = c.Update("w1", widget{ID: "w1", Color: "purple"})
	require.NoError(t, err)
	v, ok := c.Get("w1")
	require.True(t, ok)
	require.Equal(t, "purple", v.Color)
	updateTxn.Rollback()
	<-updateTxn.Done()

	var dtxn, derr = c.Delete("w1")
	require.NoError(t, derr)
	require.False(t, c.Has("w1"))
	dtxn.Rollback()
	<-dtxn.Done()
	require.True(t, c.Has("w1"))
}

func TestInsertRejectsInvalidValueWhenSchemaConfigured(t *testing.T) {
	var c = New(Options[widget, string]{
		ID:    "schema-checked",
		KeyOf: func(w widget) string { return w.ID },
		Schema: validatorFunc(func(w widget) error {
			if w.Color == "" {
				return errEmptyColor
			}
			return nil
		}),
	})
	t.Cleanup(c.Close)
	require.NoError(t, c.StartLoading())
	c.BeginPendingSync()
	require.NoError(t, c.CommitSync())
	require.NoError(t, c.MarkReady())

	var _, err = c.Insert(widget{ID: "bad"})
	require.Error(t, err)
}

type validatorFunc func(widget) error

func (f validatorFunc) Validate(w widget) error { return f(w) }

var errEmptyColor = &emptyColorError{}

type emptyColorError struct{}

func (e *emptyColorError) Error() string { return "color must not be empty" }
