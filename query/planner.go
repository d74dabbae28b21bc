package query

import "fmt"

// Registry resolves a collection name referenced by Source.Collection;
// the planner only needs to know a collection exists, not its contents.
type Registry interface {
	Has(collection string) bool
}

// AliasPlan is the planner's output for a single alias: its source, the
// pushdown predicate (if any), and whether it is the sole alias driving
// an optimizable orderBy/limit.
type AliasPlan struct {
	Source        Source
	Pushdown      Expr
	OrderByPushed bool
}

// Plan is the planner's full output for one query, recursively including
// plans for every nested Include (spec §4.7 "recursively plan includes
// subqueries").
type Plan struct {
	Query      *Query
	Aliases    []AliasPlan
	Pushdowns  map[string]Expr
	Includes   map[string]*Plan // keyed by Include.FieldName
	Optimized  bool              // true iff LimitOptimizable(Query)
}

// PlanQuery builds a Plan for q against reg, validating every alias resolves
// and recursively planning includes.
func PlanQuery(q *Query, reg Registry) (*Plan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var pushdowns = ExtractPushdowns(q)
	var orderByAlias, orderByOK = OrderByPushdown(q)

	var plan = &Plan{
		Query:     q,
		Pushdowns: make(map[string]Expr, len(pushdowns)),
		Includes:  make(map[string]*Plan, len(q.Includes)),
		Optimized: LimitOptimizable(q),
	}

	for _, src := range AliasSet(q) {
		if reg != nil && !reg.Has(src.Collection) {
			return nil, &UnknownCollectionError{Alias: src.Alias, Collection: src.Collection}
		}
		var pd = pushdowns[src.Alias]
		var combined = pd.Combined()
		plan.Pushdowns[src.Alias] = combined
		plan.Aliases = append(plan.Aliases, AliasPlan{
			Source:        src,
			Pushdown:      combined,
			OrderByPushed: orderByOK && orderByAlias == src.Alias,
		})
	}

	for _, inc := range q.Includes {
		var childPlan, err = PlanQuery(inc.Query, reg)
		if err != nil {
			return nil, fmt.Errorf("query: planning include %q: %w", inc.FieldName, err)
		}
		plan.Includes[inc.FieldName] = childPlan
	}

	return plan, nil
}

// AliasCount returns the total number of distinct source aliases across
// the plan, including every nested include -- spec §8 "For any live
// query, total source subscriptions = number of distinct aliases in the
// query tree."
func (p *Plan) AliasCount() int {
	var n = len(p.Aliases)
	for _, inc := range p.Includes {
		n += inc.AliasCount()
	}
	return n
}
