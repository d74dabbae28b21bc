package dataflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowcore/livedb/query"
)

// LoadSubsetRequest is what an ordered, optimizable live query issues
// upstream when the graph exhausts without filling limit+offset (spec
// §4.9, §4.11): "loadSubset is expected on the source adapter's sync
// interface and receives {orderBy?, limit?, minValues?, offset?, where?}.
// A minValues cursor is a tuple of values matching the ordered columns".
type LoadSubsetRequest struct {
	OrderBy   []query.OrderTerm
	Limit     int
	Offset    int
	MinValues []any
	Where     query.Expr
}

// CanonicalKey serializes the request deterministically so the runtime
// can deduplicate identical in-flight requests (spec §4.9 "Deduplication
// of identical load requests is mandatory (by a canonical serialization
// of the cursor)").
func (r LoadSubsetRequest) CanonicalKey() string {
	var parts = make([]string, 0, len(r.MinValues)+2)
	parts = append(parts, fmt.Sprintf("limit=%d", r.Limit), fmt.Sprintf("offset=%d", r.Offset))
	for _, v := range r.MinValues {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, "|")
}

// WindowedView returns the graph's current output sorted by orderByIndex
// and sliced to [offset, offset+limit). For unordered graphs (window ==
// nil) it returns every row, unsliced, in arbitrary order.
func (g *Graph) WindowedView() []OutputRow {
	var rows = make([]OutputRow, 0, len(g.outputs))
	for key, r := range g.outputs {
		if g.distinct != nil && !g.distinct.isVisible(key) {
			continue
		}
		if g.singleResult != nil && !g.singleResult.isVisible(key) {
			continue
		}
		rows = append(rows, r)
	}
	if g.window == nil {
		return rows
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OrderByIndex != rows[j].OrderByIndex {
			return rows[i].OrderByIndex < rows[j].OrderByIndex
		}
		return rows[i].OutputKey < rows[j].OutputKey
	})

	var lo = g.window.offset
	if lo > len(rows) {
		lo = len(rows)
	}
	var hi = len(rows)
	if g.window.limit > 0 && g.window.offset+g.window.limit < hi {
		hi = g.window.offset + g.window.limit
	}
	return rows[lo:hi]
}

// SetWindow updates the window bounds (spec §4.11 "setWindow({offset,
// limit}) is a no-op on unordered queries; on ordered queries it updates
// the window operator and may trigger loadSubset"). It returns a
// non-nil *LoadSubsetRequest when the graph's materialized rows don't
// fill the new window and an upstream fetch is needed.
func (g *Graph) SetWindow(offset, limit int) *LoadSubsetRequest {
	if g.window == nil {
		return nil
	}
	g.window.SetWindow(offset, limit)

	var total = len(g.outputs)
	if limit > 0 && offset+limit <= total {
		return nil
	}

	var biggest = g.biggestOrderKey()
	return &LoadSubsetRequest{
		OrderBy:   g.window.terms,
		Limit:     limit,
		Offset:    offset,
		MinValues: biggest,
		Where:     g.plan.Pushdowns[g.plan.Query.From.Alias],
	}
}

// biggestOrderKey returns the order key of the largest row currently
// materialized, used as the minValues cursor for the next loadSubset
// (spec §4.9 "the runtime tracks the biggest sent value seen from a
// source").
func (g *Graph) biggestOrderKey() []any {
	var rows = g.WindowedView()
	if len(rows) == 0 {
		return nil
	}
	var last = rows[len(rows)-1]
	return orderKeyOf(g.window.terms, last.Row)
}
