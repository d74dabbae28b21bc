package collection

// orderedMap is a keyed store that preserves insertion order, matching the
// "syncedData: ordered mapping K -> T (insertion-order preserved)" invariant
// of spec §3. Re-inserting an existing key updates its value in place
// without moving its position; deleting and re-inserting moves it to the
// end, matching standard Map/insertion-order semantics (e.g. JS Map, which
// the source system is built around).
type orderedMap[K comparable, V any] struct {
	values map[K]V
	order  []K
	index  map[K]int // key -> position in order, for O(1) delete
}

func newOrderedMap[K comparable, V any]() *orderedMap[K, V] {
	return &orderedMap[K, V]{
		values: make(map[K]V),
		order:  make([]K, 0),
		index:  make(map[K]int),
	}
}

func (m *orderedMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.values[k]
	return v, ok
}

func (m *orderedMap[K, V]) Has(k K) bool {
	_, ok := m.values[k]
	return ok
}

func (m *orderedMap[K, V]) Set(k K, v V) {
	if _, exists := m.values[k]; !exists {
		m.index[k] = len(m.order)
		m.order = append(m.order, k)
	}
	m.values[k] = v
}

func (m *orderedMap[K, V]) Delete(k K) {
	pos, ok := m.index[k]
	if !ok {
		return
	}
	delete(m.values, k)
	delete(m.index, k)
	m.order = append(m.order[:pos], m.order[pos+1:]...)
	for i := pos; i < len(m.order); i++ {
		m.index[m.order[i]] = i
	}
}

func (m *orderedMap[K, V]) Len() int { return len(m.order) }

// Keys returns keys in insertion order. The returned slice must not be mutated.
func (m *orderedMap[K, V]) Keys() []K { return m.order }

// Each iterates values in insertion order.
func (m *orderedMap[K, V]) Each(fn func(k K, v V)) {
	for _, k := range m.order {
		fn(k, m.values[k])
	}
}

func (m *orderedMap[K, V]) Clear() {
	m.values = make(map[K]V)
	m.order = m.order[:0]
	m.index = make(map[K]int)
}
