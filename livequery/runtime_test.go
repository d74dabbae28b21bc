package livequery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/livedb/collection"
	"github.com/flowcore/livedb/dataflow"
	"github.com/flowcore/livedb/query"
)

type person struct {
	ID        string
	ManagerID string
}

func newReadyCollection(t *testing.T) *collection.Collection[person, string] {
	t.Helper()
	var c = collection.New(collection.Options[person, string]{
		ID:    "people",
		KeyOf: func(p person) string { return p.ID },
	})
	require.NoError(t, c.StartLoading())
	c.BeginPendingSync()
	require.NoError(t, c.CommitSync())
	require.NoError(t, c.MarkReady())
	return c
}

func TestRuntimeSelfJoinProducesSingleOutputRow(t *testing.T) {
	var q = &query.Query{
		From: query.Source{Alias: "e", Collection: "people"},
		Joins: []query.Join{
			{Source: query.Source{Alias: "m", Collection: "people"}, On: query.Func{
				Op: query.OpEq,
				Args: []query.Expr{
					query.Ref{Alias: "e", Path: []string{"ManagerID"}},
					query.Ref{Alias: "m", Path: []string{"ID"}},
				},
			}},
		},
	}
	var plan, err = query.PlanQuery(q, nil)
	require.NoError(t, err)
	var graph, compileErr = dataflow.Compile(plan)
	require.NoError(t, compileErr)

	var people = newReadyCollection(t)
	var rt = NewRuntime("rt-1", graph, nil, collection.Options[dataflow.Row, string]{ID: "self-join-live-query"}, nil)
	rt.AttachSource(NewCollectionSource[person, string]("e", people, collection.SubscribeOptions[person, string]{IncludeInitialState: true}))
	rt.AttachSource(NewCollectionSource[person, string]("m", people, collection.SubscribeOptions[person, string]{IncludeInitialState: true}))

	people.BeginPendingSync()
	require.NoError(t, people.WriteSync(collection.WriteOp[person, string]{Type: collection.Insert, Key: "e1", Value: person{ID: "e1", ManagerID: "e2"}}))
	require.NoError(t, people.WriteSync(collection.WriteOp[person, string]{Type: collection.Insert, Key: "e2", Value: person{ID: "e2"}}))
	require.NoError(t, people.CommitSync())

	require.Eventually(t, func() bool { return rt.output.Size() == 1 }, time.Second, time.Millisecond)
	require.True(t, rt.IsReady())
}

func TestSchedulerDedupesAndOrdersByDependency(t *testing.T) {
	var s = NewScheduler()
	var order []string
	s.DependsOn("A", "B")

	s.Schedule("ctx1", "A", func() { order = append(order, "A") })
	s.Schedule("ctx1", "A", func() { order = append(order, "A-dup") })
	s.Schedule("ctx1", "B", func() { order = append(order, "B") })

	s.Flush("ctx1")
	require.Equal(t, []string{"B", "A"}, order)
}

func TestSchedulerClearContextDropsPendingJobs(t *testing.T) {
	var s = NewScheduler()
	var ran bool
	s.Schedule("ctx1", "job", func() { ran = true })
	s.ClearContext("ctx1")
	s.Flush("ctx1")
	require.False(t, ran)
}

func TestSchedulerRunsImmediatelyOutsideTransaction(t *testing.T) {
	var s = NewScheduler()
	var ran bool
	s.Schedule("", "job", func() { ran = true })
	require.True(t, ran)
}

func TestLoaderDeduplicatesIdenticalRequests(t *testing.T) {
	var loader = NewLoader()
	var calls int
	var issuedDup bool
	var errDup error
	var upstream upstreamFunc
	upstream = func(req dataflow.LoadSubsetRequest) error {
		calls++
		// Re-issue the identical request while this one is still in flight.
		issuedDup, errDup = loader.Request(upstream, req)
		return nil
	}

	var issued1, err1 = loader.Request(upstream, dataflow.LoadSubsetRequest{Limit: 10, MinValues: []any{5}})
	require.NoError(t, err1)
	require.True(t, issued1)
	require.NoError(t, errDup)
	require.False(t, issuedDup)
	require.Equal(t, 1, calls)
}

type upstreamFunc func(req dataflow.LoadSubsetRequest) error

func (f upstreamFunc) LoadSubset(req dataflow.LoadSubsetRequest) error { return f(req) }
