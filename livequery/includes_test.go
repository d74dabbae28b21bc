package livequery

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/livedb/collection"
	"github.com/flowcore/livedb/dataflow"
	"github.com/flowcore/livedb/query"
)

type comment struct {
	ID     string
	PostID string
}

func newChildOpts(id string) func() collection.Options[dataflow.Row, string] {
	return func() collection.Options[dataflow.Row, string] {
		return collection.Options[dataflow.Row, string]{
			ID:    id,
			KeyOf: func(r dataflow.Row) string { return fmt.Sprint(r["c"]) },
		}
	}
}

func newIncludeEntry(t *testing.T, comments *collection.Collection[comment, string]) *IncludeEntry {
	t.Helper()
	var q = &query.Query{From: query.Source{Alias: "c", Collection: "comments"}}
	var plan, err = query.PlanQuery(q, nil)
	require.NoError(t, err)
	var graph, cerr = dataflow.Compile(plan)
	require.NoError(t, cerr)

	var entry = NewIncludeEntry("comments", query.Ref{Alias: "c", Path: []string{"PostID"}}, graph, newChildOpts("comments-child"))
	entry.AttachSource(NewCollectionSource[comment, string]("c", comments, collection.SubscribeOptions[comment, string]{IncludeInitialState: true}))
	return entry
}

func TestIncludeEntryFlushDrainsChildChangesIntoCorrelatedChild(t *testing.T) {
	var comments = collection.New(collection.Options[comment, string]{
		ID:    "comments",
		KeyOf: func(c comment) string { return c.ID },
	})
	t.Cleanup(comments.Close)
	require.NoError(t, comments.StartLoading())
	comments.BeginPendingSync()
	require.NoError(t, comments.CommitSync())
	require.NoError(t, comments.MarkReady())

	var entry = newIncludeEntry(t, comments)

	comments.BeginPendingSync()
	require.NoError(t, comments.WriteSync(collection.WriteOp[comment, string]{Type: collection.Insert, Key: "cm1", Value: comment{ID: "cm1", PostID: "p1"}}))
	require.NoError(t, comments.CommitSync())

	require.Eventually(t, func() bool {
		require.NoError(t, entry.flush())
		var _, ok = entry.children["p1"]
		return ok
	}, time.Second, time.Millisecond)

	var child = entry.children["p1"]
	require.Equal(t, 1, child.Size())
}

func TestIncludeEntryDisposeRemovesChildAndNestedRouting(t *testing.T) {
	var comments = collection.New(collection.Options[comment, string]{
		ID:    "comments",
		KeyOf: func(c comment) string { return c.ID },
	})
	t.Cleanup(comments.Close)
	require.NoError(t, comments.StartLoading())
	comments.BeginPendingSync()
	require.NoError(t, comments.CommitSync())
	require.NoError(t, comments.MarkReady())

	var entry = newIncludeEntry(t, comments)
	var nested = newIncludeEntry(t, comments)
	entry.AddNested(nested)
	nested.routeChild("reaction-1", "p1")

	entry.ensureChild("p1")
	require.Contains(t, entry.children, "p1")

	entry.dispose("p1")
	require.NotContains(t, entry.children, "p1")
	require.NotContains(t, nested.routing, "reaction-1")
}
