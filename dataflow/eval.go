package dataflow

import (
	"fmt"
	"reflect"

	"github.com/flowcore/livedb/query"
)

// resolveRef walks a query.Ref's alias + path against row using
// reflection, so arbitrary application record structs/maps work without
// this package needing to know their shape.
func resolveRef(row Row, ref query.Ref) (any, bool) {
	var v, ok = row.get(ref.Alias)
	if !ok {
		return nil, false
	}
	for _, seg := range ref.Path {
		v, ok = field(v, seg)
		if !ok {
			return nil, false
		}
	}
	return v, true
}

func field(v any, name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		var val, present = m[name]
		return val, present
	}
	var rv = reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	var f = rv.FieldByName(name)
	if !f.IsValid() {
		return nil, false
	}
	return f.Interface(), true
}

// Eval evaluates e against row, returning the resulting value. Boolean
// operators (And/Or/Not/comparisons) return a bool; Ref/Val return
// whatever they resolve to.
func Eval(e query.Expr, row Row) (any, error) {
	switch n := e.(type) {
	case query.Ref:
		var v, _ = resolveRef(row, n)
		return v, nil
	case query.Val:
		return n.Value, nil
	case query.Func:
		return evalFunc(n, row)
	case query.Agg:
		return nil, fmt.Errorf("dataflow: Agg cannot be evaluated outside a groupBy context")
	default:
		return nil, fmt.Errorf("dataflow: unsupported expr type %T", e)
	}
}

// EvalBool evaluates e and coerces the result to a bool, as required for
// Where/On/Having predicates.
func EvalBool(e query.Expr, row Row) (bool, error) {
	if e == nil {
		return true, nil
	}
	var v, err = Eval(e, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("dataflow: predicate %v did not evaluate to bool, got %T", e, v)
	}
	return b, nil
}

func evalFunc(f query.Func, row Row) (any, error) {
	switch f.Op {
	case query.OpAnd:
		for _, a := range f.Args {
			var b, err = EvalBool(a, row)
			if err != nil || !b {
				return false, err
			}
		}
		return true, nil
	case query.OpOr:
		for _, a := range f.Args {
			var b, err = EvalBool(a, row)
			if err != nil {
				return false, err
			}
			if b {
				return true, nil
			}
		}
		return false, nil
	case query.OpNot:
		var b, err = EvalBool(f.Args[0], row)
		return !b, err
	}

	if len(f.Args) != 2 {
		return nil, fmt.Errorf("dataflow: operator %s requires exactly 2 args", f.Op)
	}
	var left, err = Eval(f.Args[0], row)
	if err != nil {
		return nil, err
	}
	right, err := Eval(f.Args[1], row)
	if err != nil {
		return nil, err
	}

	switch f.Op {
	case query.OpEq:
		return compareEqual(left, right), nil
	case query.OpNeq:
		return !compareEqual(left, right), nil
	case query.OpLt:
		return compareOrdered(left, right) < 0, nil
	case query.OpLte:
		return compareOrdered(left, right) <= 0, nil
	case query.OpGt:
		return compareOrdered(left, right) > 0, nil
	case query.OpGte:
		return compareOrdered(left, right) >= 0, nil
	default:
		return nil, fmt.Errorf("dataflow: unsupported operator %s", f.Op)
	}
}

func compareEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// compareOrdered is a best-effort total order over the value kinds the
// engine is expected to compare (numbers and strings); it is the ordering
// primitive behind both boolean comparisons and orderBy (see orderindex.go).
func compareOrdered(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	}
	var af, aok = toFloat(a)
	var bf, bok = toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
