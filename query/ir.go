// Package query implements the query IR and planner (spec §4.7, component
// C7): a query is built as an IR tree; the planner enumerates referenced
// aliases, extracts per-alias pushdown predicates, detects optimizable
// orderBy/limit shapes, and recursively plans includes.
//
// Spec §9 notes the source records property-access paths via dynamic
// proxies; this implementation exposes the equivalent as an explicit
// string-path Ref builder, per that section's guidance for
// implementations without such a facility.
package query

// Expr is any node of the query IR.
type Expr interface{ isExpr() }

// Ref is a column/field reference rooted at an alias, e.g. Ref{Alias: "e",
// Path: []string{"manager", "id"}} for `e.manager.id`.
type Ref struct {
	Alias string
	Path  []string
}

func (Ref) isExpr() {}

// String renders the dotted form used in error messages and snapshots.
func (r Ref) String() string {
	var s = r.Alias
	for _, p := range r.Path {
		s += "." + p
	}
	return s
}

// Val is a literal value embedded in the IR.
type Val struct{ Value any }

func (Val) isExpr() {}

// FuncOp names a scalar or boolean operator applied to Func.Args.
type FuncOp string

const (
	OpEq      FuncOp = "eq"
	OpNeq     FuncOp = "neq"
	OpLt      FuncOp = "lt"
	OpLte     FuncOp = "lte"
	OpGt      FuncOp = "gt"
	OpGte     FuncOp = "gte"
	OpAnd     FuncOp = "and"
	OpOr      FuncOp = "or"
	OpNot     FuncOp = "not"
	OpLike    FuncOp = "like"
	OpInArray FuncOp = "in"
)

// Func applies Op to Args. The pushdown extractor flattens nested And
// nodes into conjuncts (spec §4.7 "a conjunct of the where clause"); an
// Or node is kept whole.
type Func struct {
	Op   FuncOp
	Args []Expr
}

func (Func) isExpr() {}

// AggKind names a supported aggregate (spec §4.8's groupBy/having surface).
type AggKind string

const (
	AggCount AggKind = "count"
	AggSum   AggKind = "sum"
	AggMin   AggKind = "min"
	AggMax   AggKind = "max"
	AggAvg   AggKind = "avg"
)

// Agg is an aggregate expression over Arg, grouped by the enclosing
// query's GroupBy.
type Agg struct {
	Kind AggKind
	Arg  Expr
}

func (Agg) isExpr() {}

// Direction is an orderBy clause's sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// OrderTerm is one clause of an orderBy list.
type OrderTerm struct {
	Expr      Expr
	Direction Direction
}

// Source names a collection bound under an alias (spec §4.7 "supporting
// self-join: same collection under multiple aliases").
type Source struct {
	Alias      string
	Collection string
}

// JoinKind names inner/left joins. The dataflow compiler does not read
// it: every join is evaluated as an inner join.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// Join attaches Source under Alias to the query tree, correlated by On.
type Join struct {
	Source Source
	Kind   JoinKind
	On     Expr
}

// Include is a correlated sub-query attached to a parent row under
// FieldName (spec §4.9 "per include entry, a mapping correlationKey ->
// childCollection").
type Include struct {
	FieldName      string
	Query          *Query
	CorrelationKey Ref // field on the child aliased to the parent's key
}

// Query is the root IR node (spec §6 "Query public surface (minimum IR):
// from, join, where, select, groupBy, having, orderBy, limit/offset,
// distinct, include, singleResult").
type Query struct {
	From         Source
	Joins        []Join
	Where        Expr
	Select       []Expr // Ref for plain columns, Agg for aggregates
	GroupBy      []Ref
	Having       Expr
	OrderBy      []OrderTerm
	Limit        int // 0 means unbounded
	Offset       int
	Distinct     bool
	Includes     []Include
	SingleResult bool
}

// Validate performs structural checks independent of any particular
// collection registry: it rejects an alias bound twice. It does not check
// that Join.On or Where/Having reference a declared alias, and it does not
// check the alias resolves to a real collection -- that's the planner's
// job once it has a registry.
func (q *Query) Validate() error {
	var aliases = map[string]struct{}{q.From.Alias: {}}
	for _, j := range q.Joins {
		if _, dup := aliases[j.Source.Alias]; dup {
			return &DuplicateAliasError{Alias: j.Source.Alias}
		}
		aliases[j.Source.Alias] = struct{}{}
	}
	return nil
}
