package query

// conjuncts flattens a (possibly nested) AND tree into its leaf
// conjuncts; OR and non-Func nodes are returned as a single-element slice
// since they cannot be split further (spec §4.7 "a conjunct of the where
// clause pushes to an alias iff it references only that alias's
// columns").
func conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if f, ok := e.(Func); ok && f.Op == OpAnd {
		var out []Expr
		for _, a := range f.Args {
			out = append(out, conjuncts(a)...)
		}
		return out
	}
	return []Expr{e}
}

// isAggregate reports whether e contains an Agg node anywhere in its tree;
// aggregate-bearing conjuncts never push down (spec §4.7 "Aggregates and
// cross-alias refs stay in the dataflow").
func isAggregate(e Expr) bool {
	switch n := e.(type) {
	case Agg:
		return true
	case Func:
		for _, a := range n.Args {
			if isAggregate(a) {
				return true
			}
		}
	}
	return false
}

// Pushdown is the per-alias predicate extracted from a query's Where
// clause: the AND of every conjunct that references only that alias.
type Pushdown struct {
	Alias     string
	Conjuncts []Expr
}

// Combined ANDs every conjunct together into one Expr, or returns nil if
// there are none.
func (p Pushdown) Combined() Expr {
	switch len(p.Conjuncts) {
	case 0:
		return nil
	case 1:
		return p.Conjuncts[0]
	default:
		return Func{Op: OpAnd, Args: p.Conjuncts}
	}
}

// ExtractPushdowns computes, for every alias in the query, the Where
// conjuncts that can be pushed down to that alias's source (spec §4.7
// pushdown rule).
func ExtractPushdowns(q *Query) map[string]Pushdown {
	var aliases = AliasSet(q)
	var out = make(map[string]Pushdown, len(aliases))
	for _, a := range aliases {
		out[a.Alias] = Pushdown{Alias: a.Alias}
	}

	for _, conj := range conjuncts(q.Where) {
		if isAggregate(conj) {
			continue
		}
		var refs = referencedAliases(conj)
		if len(refs) != 1 {
			continue
		}
		for alias := range refs {
			var p = out[alias]
			p.Conjuncts = append(p.Conjuncts, conj)
			out[alias] = p
		}
	}
	return out
}

// OrderByPushdown reports whether q's OrderBy is passable to a single
// source alias: every clause must be a simple one-segment Ref into that
// alias (spec §4.7 "orderBy is passable to a source only when every
// clause is a simple one-segment ref into the alias; otherwise ordering
// is purely in the graph"). Returns ("", false) if not optimizable, or
// the alias and true if so.
func OrderByPushdown(q *Query) (string, bool) {
	if len(q.OrderBy) == 0 {
		return "", false
	}
	var alias string
	for i, term := range q.OrderBy {
		var ref, ok = term.Expr.(Ref)
		if !ok || len(ref.Path) != 1 {
			return "", false
		}
		if i == 0 {
			alias = ref.Alias
		} else if ref.Alias != alias {
			return "", false
		}
	}
	return alias, true
}

// LimitOptimizable reports whether q's orderBy/limit shape can be pushed
// to a single source as a loadSubset window, per §4.7/§4.11: it requires
// an optimizable orderBy, a single alias overall (no joins), and no
// groupBy (aggregation forces full materialization in the graph).
func LimitOptimizable(q *Query) bool {
	if len(q.Joins) > 0 || len(q.GroupBy) > 0 {
		return false
	}
	var alias, ok = OrderByPushdown(q)
	return ok && alias == q.From.Alias
}
