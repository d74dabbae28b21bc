package dataflow

import (
	"strconv"

	"github.com/flowcore/livedb/query"
)

// candidateRow is one fully-joined row under construction: row carries
// the per-alias values, keys the per-alias keys that produced it (needed
// to index it for incremental retraction).
type candidateRow struct {
	row  Row
	keys map[string]string
}

// joinCandidates recomputes every output row that includes alias's key,
// by nested-loop matching against every other alias's current table and
// re-evaluating the join/where predicate (spec §4.8's join operator).
// This is the delta side of the join: only combinations touching the
// changed (alias, key) are considered, which is what makes per-change
// maintenance cheaper than a full recompute.
func (g *Graph) joinCandidates(alias, key string) []candidateRow {
	var fixed = candidateRow{row: Row{alias: g.tables[alias][key]}, keys: map[string]string{alias: key}}
	var frontier = []candidateRow{fixed}

	for _, other := range g.aliases {
		if other == alias {
			continue
		}
		var next []candidateRow
		for _, cand := range frontier {
			for k, v := range g.tables[other] {
				var merged = mergeCandidate(cand, other, k, v)
				next = append(next, merged)
			}
		}
		frontier = next
	}

	var out []candidateRow
	for _, cand := range frontier {
		if g.matchesJoinsAndWhere(cand.row) {
			out = append(out, cand)
		}
	}
	return out
}

// fullJoin recomputes the entire join+filter(+groupBy/having) result from
// scratch, used by the aggregate recompute path.
func (g *Graph) fullJoin() []OutputRow {
	var frontier = []candidateRow{{row: Row{}, keys: map[string]string{}}}
	for _, alias := range g.aliases {
		var next []candidateRow
		for _, cand := range frontier {
			for k, v := range g.tables[alias] {
				next = append(next, mergeCandidate(cand, alias, k, v))
			}
		}
		frontier = next
	}

	var matched []candidateRow
	for _, cand := range frontier {
		if g.matchesJoinsAndWhere(cand.row) {
			matched = append(matched, cand)
		}
	}

	if len(g.plan.Query.GroupBy) == 0 {
		var out = make([]OutputRow, 0, len(matched))
		for _, cand := range matched {
			var outKey = candidateKey(g.aliases, cand)
			var idx string
			if g.window != nil {
				idx = g.window.indexFor(cand)
			}
			out = append(out, OutputRow{OutputKey: outKey, Row: projectRow(g.plan.Query.Select, cand), OrderByIndex: idx})
		}
		return out
	}
	return g.groupAndAggregate(matched)
}

func mergeCandidate(base candidateRow, alias, key string, value any) candidateRow {
	var row = make(Row, len(base.row)+1)
	for k, v := range base.row {
		row[k] = v
	}
	row[alias] = value

	var keys = make(map[string]string, len(base.keys)+1)
	for k, v := range base.keys {
		keys[k] = v
	}
	keys[alias] = key

	return candidateRow{row: row, keys: keys}
}

func (g *Graph) matchesJoinsAndWhere(row Row) bool {
	for _, j := range g.plan.Query.Joins {
		var ok, err = EvalBool(j.On, row)
		if err != nil || !ok {
			return false
		}
	}
	var ok, err = EvalBool(g.plan.Query.Where, row)
	return err == nil && ok
}

// groupAndAggregate collapses matched rows by GroupBy key, evaluating
// each Select Agg against its group and applying Having.
func (g *Graph) groupAndAggregate(matched []candidateRow) []OutputRow {
	var groups = make(map[string][]candidateRow)
	var groupOrder []string
	for _, cand := range matched {
		var key = groupKey(g.plan.Query.GroupBy, cand.row)
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], cand)
	}

	var out []OutputRow
	for _, key := range groupOrder {
		var rows = groups[key]
		var aggregated = aggregateGroup(g.plan.Query.Select, rows)
		if g.plan.Query.Having != nil {
			var ok, err = EvalBool(g.plan.Query.Having, aggregated)
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, OutputRow{OutputKey: key, Row: aggregated})
	}
	return out
}

func groupKey(groupBy []query.Ref, row Row) string {
	var key string
	for _, ref := range groupBy {
		var v, _ = resolveRef(row, ref)
		key += ref.String() + "=" + toComparableString(v) + "|"
	}
	return key
}

func toComparableString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case nil:
		return "<nil>"
	default:
		var f, ok = toFloat(v)
		if ok {
			return formatFloat(f)
		}
		return ""
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// projectRow applies a query's select list to a joined candidate row,
// producing the row shape published to subscribers (spec §6 "select" in
// the minimum IR). An empty select list is the common case of selecting
// whole joined rows and leaves cand untouched.
func projectRow(selects []query.Expr, cand candidateRow) Row {
	if len(selects) == 0 {
		return cloneRow(cand)
	}
	var out = make(Row, len(selects))
	for i, sel := range selects {
		var v, _ = Eval(sel, cand.row)
		out[selectOutputKey(sel, i)] = v
	}
	return out
}

func selectOutputKey(sel query.Expr, idx int) string {
	switch n := sel.(type) {
	case query.Ref:
		return n.String()
	case query.Agg:
		return aggOutputKey(n, idx)
	default:
		return strconv.Itoa(idx)
	}
}

// aggregateGroup copies every value of the group's first row into the
// output, then adds the result of each Agg in select, evaluated against
// rows, under its aggOutputKey.
func aggregateGroup(selects []query.Expr, rows []candidateRow) Row {
	var out = make(Row)
	if len(rows) == 0 {
		return out
	}
	for k, v := range rows[0].row {
		out[k] = v
	}
	for i, sel := range selects {
		var agg, ok = sel.(query.Agg)
		if !ok {
			continue
		}
		out[aggOutputKey(agg, i)] = evalAgg(agg, rows)
	}
	return out
}

func aggOutputKey(agg query.Agg, idx int) string {
	if ref, ok := agg.Arg.(query.Ref); ok {
		return string(agg.Kind) + "(" + ref.String() + ")"
	}
	return string(agg.Kind) + "#" + strconv.Itoa(idx)
}

func evalAgg(agg query.Agg, rows []candidateRow) any {
	switch agg.Kind {
	case query.AggCount:
		return len(rows)
	case query.AggSum, query.AggAvg, query.AggMin, query.AggMax:
		var vals []float64
		for _, r := range rows {
			var v, _ = resolveRef(r.row, agg.Arg.(query.Ref))
			if f, ok := toFloat(v); ok {
				vals = append(vals, f)
			}
		}
		return reduceFloats(agg.Kind, vals)
	default:
		return nil
	}
}

func reduceFloats(kind query.AggKind, vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	switch kind {
	case query.AggSum:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s
	case query.AggAvg:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals))
	case query.AggMin:
		var m = vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case query.AggMax:
		var m = vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m
	default:
		return 0
	}
}
