package dataflow

import (
	"testing"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/livedb/query"
)

type employee struct {
	ID        string
	Name      string
	ManagerID string
	N         int
}

func planFor(t *testing.T, q *query.Query) *query.Plan {
	t.Helper()
	var plan, err = query.PlanQuery(q, nil)
	require.NoError(t, err)
	return plan
}

func TestSelfJoinYieldsOneOutputRowPerMatch(t *testing.T) {
	var q = &query.Query{
		From: query.Source{Alias: "e", Collection: "employees"},
		Joins: []query.Join{
			{Source: query.Source{Alias: "m", Collection: "employees"}, On: query.Func{
				Op: query.OpEq,
				Args: []query.Expr{
					query.Ref{Alias: "e", Path: []string{"ManagerID"}},
					query.Ref{Alias: "m", Path: []string{"ID"}},
				},
			}},
		},
	}
	var g, err = Compile(planFor(t, q))
	require.NoError(t, err)

	var e1 = employee{ID: "e1", ManagerID: "e2"}
	var e2 = employee{ID: "e2"}

	var out, applyErr = g.Apply("e", []Change{{Type: Insert, Key: "e1", Value: e1}})
	require.NoError(t, applyErr)
	require.Empty(t, out) // m table empty, no match yet

	out, applyErr = g.Apply("m", []Change{{Type: Insert, Key: "e2", Value: e2}})
	require.NoError(t, applyErr)
	require.Len(t, out, 1)
	require.Equal(t, Insert, out[0].Type)

	// Updating e2 should retract+reinsert exactly once, not twice.
	out, applyErr = g.Apply("m", []Change{{Type: Update, Key: "e2", Value: employee{ID: "e2", Name: "updated"}}})
	require.NoError(t, applyErr)
	require.Len(t, out, 2) // one delete, one insert
}

func TestMissingAliasInputsError(t *testing.T) {
	var q = &query.Query{
		From:  query.Source{Alias: "e", Collection: "employees"},
		Joins: []query.Join{{Source: query.Source{Alias: "m", Collection: "employees"}}},
	}
	var g, err = Compile(planFor(t, q))
	require.NoError(t, err)

	var checkErr = g.CheckInputs(map[string]bool{"e": true})
	require.Error(t, checkErr)
	require.IsType(t, &MissingAliasInputsError{}, checkErr)
}

func TestOrderedWindowLoadSubset(t *testing.T) {
	var q = &query.Query{
		From:    query.Source{Alias: "x", Collection: "numbers"},
		OrderBy: []query.OrderTerm{{Expr: query.Ref{Alias: "x", Path: []string{"N"}}, Direction: query.Asc}},
		Limit:   10,
	}
	var g, err = Compile(planFor(t, q))
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		var _, applyErr = g.Apply("x", []Change{{Type: Insert, Key: itoaKey(i), Value: employee{N: i}}})
		require.NoError(t, applyErr)
	}
	require.Len(t, g.WindowedView(), 10)

	var req = g.SetWindow(0, 20)
	require.NotNil(t, req)
	require.Equal(t, []any{10}, req.MinValues)

	for i := 11; i <= 20; i++ {
		var _, applyErr = g.Apply("x", []Change{{Type: Insert, Key: itoaKey(i), Value: employee{N: i}}})
		require.NoError(t, applyErr)
	}
	require.Len(t, g.WindowedView(), 20)
	require.Nil(t, g.SetWindow(0, 20))
}

func itoaKey(i int) string {
	return string(rune('a' + i))
}

func TestLoadSubsetCanonicalKeyDedup(t *testing.T) {
	var r1 = LoadSubsetRequest{Limit: 10, Offset: 0, MinValues: []any{10}}
	var r2 = LoadSubsetRequest{Limit: 10, Offset: 0, MinValues: []any{10}}
	require.Equal(t, r1.CanonicalKey(), r2.CanonicalKey())
	cupaloy.SnapshotT(t, r1.CanonicalKey())
}
