package dataflow

import (
	"math"
	"sort"
	"strings"

	"github.com/flowcore/livedb/query"
)

// fractionalIndexAlphabet is the digit set used to build lexicographically
// comparable index strings (spec §4.8 "a fractional-index operator
// producing a per-output orderByIndex string that compares
// lexicographically"). Base-36 gives a compact, readable representation.
const fractionalIndexAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// orderKeyOf extracts the comparison key for cand per terms, as a slice
// of values in clause order (used both for the global sort and for
// minValues cursor comparisons, spec §4.11).
func orderKeyOf(terms []query.OrderTerm, row Row) []any {
	var key = make([]any, len(terms))
	for i, t := range terms {
		v, _ := Eval(t.Expr, row)
		key[i] = v
	}
	return key
}

// compareOrderKeys compares two order keys clause-by-clause, honoring
// each clause's direction, returning <0, 0, >0.
func compareOrderKeys(terms []query.OrderTerm, a, b []any) int {
	for i, t := range terms {
		var c = compareOrdered(a[i], b[i])
		if t.Direction == query.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// windowOperator maintains the ordered, windowed view of a graph's output
// (spec §4.8 "limit/offset are represented as a sliding-window operator
// whose bounds can be updated (setWindow)").
type windowOperator struct {
	terms  []query.OrderTerm
	limit  int
	offset int
}

func newWindowOperator(terms []query.OrderTerm, limit, offset int) *windowOperator {
	return &windowOperator{terms: terms, limit: limit, offset: offset}
}

// indexFor computes cand's fractional orderByIndex string.
func (w *windowOperator) indexFor(cand candidateRow) string {
	var key = orderKeyOf(w.terms, cand.row)
	var parts = make([]string, len(key))
	for i, v := range key {
		parts[i] = fractionalEncode(v)
	}
	return strings.Join(parts, "\x00")
}

func fractionalEncode(v any) string {
	if f, ok := toFloat(v); ok {
		return encodeFloatLexicographic(f)
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// encodeFloatLexicographic maps a float to a string that compares
// lexicographically the same way the float compares numerically. "p"
// sorts after "n" so any negative value precedes any non-negative one.
// Within "p", larger magnitudes produce larger padded digit strings, which
// is already ascending order. Within "n", a larger magnitude is a more
// negative (smaller) value, so its digit string is complemented
// digit-by-digit -- that reverses magnitude order within the "n"
// namespace, restoring ascending order overall. The magnitude is written
// as two fixed-width digit groups: its whole part, then its fractional
// part scaled to 12 decimal places.
func encodeFloatLexicographic(f float64) string {
	var whole, frac = math.Modf(math.Abs(f))
	var digits = padLeft(int64(whole)) + padLeft(int64(frac*1e12))
	if f < 0 {
		return "n" + invertDigits(digits)
	}
	return "p" + digits
}

// invertDigits complements every digit of s against the alphabet (digit i
// becomes digit len(alphabet)-1-i), reversing the ordering of fixed-width
// digit strings produced by padLeft.
func invertDigits(s string) string {
	var out = make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		var pos = strings.IndexByte(fractionalIndexAlphabet, s[i])
		out[i] = fractionalIndexAlphabet[len(fractionalIndexAlphabet)-1-pos]
	}
	return string(out)
}

func padLeft(n int64) string {
	var digits []byte
	if n == 0 {
		digits = []byte{'0'}
	}
	for n > 0 {
		digits = append([]byte{fractionalIndexAlphabet[n%36]}, digits...)
		n /= 36
	}
	for len(digits) < 13 {
		digits = append([]byte{'0'}, digits...)
	}
	return string(digits)
}

// apply re-sorts the operator's batch of raw join/filter deltas, returning
// them in ascending order-by order. Non-window operators (unordered
// queries) pass batches through untouched -- this method is only ever
// invoked when w != nil. Windowing itself (slicing to [offset,
// offset+limit)) is applied by the caller that owns the full materialized
// set -- see Graph.WindowedView, invoked by the livequery runtime after
// Apply.
//
// Sorting compares each delta's row directly against the order-by terms'
// raw values (compareOrderKeys) rather than the OrderByIndex string, so
// internal ordering doesn't depend on the fractional-index encoding
// staying bug-for-bug consistent with value comparison.
func (w *windowOperator) apply(deltas []OutputChange) []OutputChange {
	if len(deltas) == 0 {
		return deltas
	}
	sort.SliceStable(deltas, func(i, j int) bool {
		var a = orderKeyOf(w.terms, deltas[i].Row)
		var b = orderKeyOf(w.terms, deltas[j].Row)
		return compareOrderKeys(w.terms, a, b) < 0
	})
	return deltas
}

// SetWindow updates the operator's offset/limit (spec §4.11 "setWindow is
// a no-op on unordered queries; on ordered queries it updates the window
// operator"). It returns nothing; the new bounds take effect on the next
// Graph.WindowedView.
func (w *windowOperator) SetWindow(offset, limit int) {
	w.offset = offset
	w.limit = limit
}
