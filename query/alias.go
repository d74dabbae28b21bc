package query

// AliasSet enumerates every alias referenced by a query tree, in
// declaration order: the From source first, then each Join in order
// (spec §4.7 "enumerate every alias referenced ... supporting self-join:
// same collection under multiple aliases").
func AliasSet(q *Query) []Source {
	var out = []Source{q.From}
	for _, j := range q.Joins {
		out = append(out, j.Source)
	}
	return out
}

// aliasesOf collects every alias a given Expr references.
func aliasesOf(e Expr, into map[string]struct{}) {
	switch n := e.(type) {
	case Ref:
		into[n.Alias] = struct{}{}
	case Func:
		for _, a := range n.Args {
			aliasesOf(a, into)
		}
	case Agg:
		aliasesOf(n.Arg, into)
	case Val:
		// no alias references
	}
}

// referencedAliases returns the set of aliases e touches.
func referencedAliases(e Expr) map[string]struct{} {
	var set = make(map[string]struct{})
	if e != nil {
		aliasesOf(e, set)
	}
	return set
}
