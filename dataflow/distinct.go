package dataflow

import (
	"fmt"
	"sort"
	"strings"
)

// rowSignature builds a deterministic content signature for a published
// row, used by distinctOperator to recognize duplicate rows regardless of
// which underlying join candidate produced them.
func rowSignature(row Row) string {
	var keys = make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprint(&b, row[k])
		b.WriteByte('|')
	}
	return b.String()
}

// lookupFunc resolves an outKey still tracked by the graph to its current
// row and orderByIndex, used when promoting a suppressed duplicate.
type lookupFunc func(key string) (Row, string)

// distinctOperator collapses rows with equal content into a single visible
// row (spec §6 "distinct" in the minimum IR). Every underlying outKey is
// still tracked internally so that, when the currently-visible key is
// retracted, a remaining duplicate can be promoted in its place rather than
// the visible row simply vanishing.
type distinctOperator struct {
	visible map[string]string   // signature -> the outKey currently shown
	dup     map[string][]string // signature -> every outKey sharing it, in arrival order
	sigOf   map[string]string   // outKey -> signature, so deletes can find their bucket
}

func newDistinctOperator() *distinctOperator {
	return &distinctOperator{
		visible: make(map[string]string),
		dup:     make(map[string][]string),
		sigOf:   make(map[string]string),
	}
}

func (d *distinctOperator) isVisible(key string) bool {
	sig, ok := d.sigOf[key]
	return ok && d.visible[sig] == key
}

func (d *distinctOperator) apply(changes []OutputChange, lookup lookupFunc) []OutputChange {
	var out []OutputChange
	for _, c := range changes {
		switch c.Type {
		case Insert:
			out = append(out, d.insert(c)...)
		case Delete:
			out = append(out, d.delete(c, lookup)...)
		case Update:
			// An update to a row already tracked as a duplicate bucket member
			// can't change its signature without a retract+insert upstream
			// (the join keys driving it haven't changed); pass it through
			// only when it's the currently-visible representative.
			if d.isVisible(c.Key) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (d *distinctOperator) insert(c OutputChange) []OutputChange {
	var sig = rowSignature(c.Row)
	d.sigOf[c.Key] = sig
	d.dup[sig] = append(d.dup[sig], c.Key)
	if _, already := d.visible[sig]; already {
		return nil // suppressed duplicate
	}
	d.visible[sig] = c.Key
	return []OutputChange{c}
}

func (d *distinctOperator) delete(c OutputChange, lookup lookupFunc) []OutputChange {
	var sig, ok = d.sigOf[c.Key]
	if !ok {
		return nil
	}
	delete(d.sigOf, c.Key)

	var keys = d.dup[sig]
	for i, k := range keys {
		if k == c.Key {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(d.dup, sig)
	} else {
		d.dup[sig] = keys
	}

	if d.visible[sig] != c.Key {
		return nil // a suppressed duplicate was retracted; visible row unaffected
	}
	delete(d.visible, sig)
	if len(keys) == 0 {
		return []OutputChange{c}
	}

	var next = keys[0]
	d.visible[sig] = next
	var row, idx = lookup(next)
	if row == nil {
		row, idx = c.Row, c.OrderByIndex
	}
	return []OutputChange{{Type: Update, Key: next, Row: row, OrderByIndex: idx}}
}

// singleResultOperator caps the maintained output at one visible row (spec
// §6 "singleResult" in the minimum IR). Additional candidate rows are
// suppressed rather than discarded, so one can be promoted if the shown
// row is retracted.
type singleResultOperator struct {
	shown   string
	pending []string
}

func newSingleResultOperator() *singleResultOperator {
	return &singleResultOperator{}
}

func (s *singleResultOperator) isVisible(key string) bool {
	return s.shown == key
}

func (s *singleResultOperator) apply(changes []OutputChange, lookup lookupFunc) []OutputChange {
	var out []OutputChange
	for _, c := range changes {
		switch c.Type {
		case Insert:
			out = append(out, s.insert(c)...)
		case Delete:
			out = append(out, s.delete(c, lookup)...)
		case Update:
			if s.shown == c.Key {
				out = append(out, c)
			}
		}
	}
	return out
}

func (s *singleResultOperator) insert(c OutputChange) []OutputChange {
	if s.shown == "" {
		s.shown = c.Key
		return []OutputChange{c}
	}
	s.pending = append(s.pending, c.Key)
	return nil
}

func (s *singleResultOperator) delete(c OutputChange, lookup lookupFunc) []OutputChange {
	if c.Key != s.shown {
		for i, k := range s.pending {
			if k == c.Key {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
		return nil
	}

	s.shown = ""
	if len(s.pending) == 0 {
		return []OutputChange{c}
	}
	var next = s.pending[0]
	s.pending = s.pending[1:]
	s.shown = next

	var row, idx = lookup(next)
	if row == nil {
		row, idx = c.Row, c.OrderByIndex
	}
	return []OutputChange{{Type: Update, Key: next, Row: row, OrderByIndex: idx}}
}
