package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRegistry map[string]struct{}

func (r fakeRegistry) Has(name string) bool { _, ok := r[name]; return ok }

func TestExtractPushdownsSingleAliasConjunct(t *testing.T) {
	var q = &Query{
		From: Source{Alias: "e", Collection: "employees"},
		Joins: []Join{
			{Source: Source{Alias: "m", Collection: "employees"}, On: Func{
				Op:   OpEq,
				Args: []Expr{Ref{Alias: "e", Path: []string{"managerId"}}, Ref{Alias: "m", Path: []string{"id"}}},
			}},
		},
		Where: Func{Op: OpAnd, Args: []Expr{
			Func{Op: OpEq, Args: []Expr{Ref{Alias: "e", Path: []string{"active"}}, Val{Value: true}}},
			Func{Op: OpEq, Args: []Expr{Ref{Alias: "m", Path: []string{"region"}}, Val{Value: "us"}}},
			Func{Op: OpGt, Args: []Expr{Ref{Alias: "e", Path: []string{"managerId"}}, Ref{Alias: "m", Path: []string{"id"}}}},
		}},
	}

	var pd = ExtractPushdowns(q)
	require.Len(t, pd["e"].Conjuncts, 1)
	require.Len(t, pd["m"].Conjuncts, 1)
}

func TestOrderByPushdownRejectsMultiSegment(t *testing.T) {
	var q = &Query{
		From:    Source{Alias: "x"},
		OrderBy: []OrderTerm{{Expr: Ref{Alias: "x", Path: []string{"profile", "age"}}}},
	}
	var _, ok = OrderByPushdown(q)
	require.False(t, ok)
}

func TestOrderByPushdownAcceptsSingleSegment(t *testing.T) {
	var q = &Query{
		From:    Source{Alias: "x"},
		OrderBy: []OrderTerm{{Expr: Ref{Alias: "x", Path: []string{"n"}}, Direction: Asc}},
		Limit:   10,
	}
	var alias, ok = OrderByPushdown(q)
	require.True(t, ok)
	require.Equal(t, "x", alias)
	require.True(t, LimitOptimizable(q))
}

func TestPlanQueryRejectsUnknownCollection(t *testing.T) {
	var q = &Query{From: Source{Alias: "x", Collection: "ghosts"}}
	var _, err = PlanQuery(q, fakeRegistry{"employees": {}})
	require.Error(t, err)
	require.IsType(t, &UnknownCollectionError{}, err)
}

func TestPlanQueryRecursesIntoIncludes(t *testing.T) {
	var q = &Query{
		From: Source{Alias: "p", Collection: "posts"},
		Includes: []Include{
			{FieldName: "comments", Query: &Query{From: Source{Alias: "c", Collection: "comments"}}},
		},
	}
	var reg = fakeRegistry{"posts": {}, "comments": {}}
	var plan, err = PlanQuery(q, reg)
	require.NoError(t, err)
	require.Contains(t, plan.Includes, "comments")
	require.Equal(t, 2, plan.AliasCount())
}

func TestValidateRejectsDuplicateAlias(t *testing.T) {
	var q = &Query{
		From:  Source{Alias: "e", Collection: "employees"},
		Joins: []Join{{Source: Source{Alias: "e", Collection: "employees"}}},
	}
	var err = q.Validate()
	require.Error(t, err)
	require.IsType(t, &DuplicateAliasError{}, err)
}

func TestSelfJoinProducesTwoAliases(t *testing.T) {
	var q = &Query{
		From:  Source{Alias: "e1", Collection: "employees"},
		Joins: []Join{{Source: Source{Alias: "e2", Collection: "employees"}}},
	}
	var plan, err = PlanQuery(q, nil)
	require.NoError(t, err)
	require.Len(t, plan.Aliases, 2)
}
