package collection

import "github.com/flowcore/livedb/ops"

// Expr is the minimal surface a query-IR boolean predicate must satisfy to
// be used as a subscriber's whereExpression (spec §4.6). Signature is a
// canonical, deterministic encoding of the predicate. The subscription
// manager filters every change with Eval alone: it calls neither Signature
// nor EqualityKey, so equivalent subscriptions are not deduplicated and no
// index is ensured for a whereExpression.
type Expr[T any] interface {
	Eval(T) bool
	Signature() string
	// EqualityKey reports the indexed expression and target value when this
	// predicate is a simple equality test; ok is false for predicates with
	// no such equivalent.
	EqualityKey() (expr string, value string, ok bool)
}

// ChangeHandler receives an ordered change batch (spec §3 ChangeMessage,
// §5 "delivered in a single call with an ordered array").
type ChangeHandler[T any, K comparable] func(ChangeBatch[T, K])

// SubscribeOptions configures a single subscription (spec §4.6, §6
// "subscribeChanges(cb, {where?, whereExpression?, includeInitialState?})").
type SubscribeOptions[T any, K comparable] struct {
	// Key restricts the subscription to a single key; nil subscribes to the
	// whole collection.
	Key *K
	// Where is an arbitrary predicate evaluated against each candidate
	// value.
	Where func(T) bool
	// WhereExpression is an IR-backed predicate eligible for index
	// pushdown.
	WhereExpression Expr[T]
	// IncludeInitialState, if true, synthesizes an initial insert batch
	// reflecting current visible state (filtered) before attaching.
	IncludeInitialState bool
	// Batched defers delivery to an explicit Flush call.
	Batched bool
}

func (o SubscribeOptions[T, K]) matches(key K, value T) bool {
	if o.Key != nil && *o.Key != key {
		return false
	}
	if o.Where != nil && !o.Where(value) {
		return false
	}
	if o.WhereExpression != nil && !o.WhereExpression.Eval(value) {
		return false
	}
	return true
}

type subscription[T any, K comparable] struct {
	id      int64
	opts    SubscribeOptions[T, K]
	handler ChangeHandler[T, K]
	pending ChangeBatch[T, K]
}

// subscriptionManager fans out change batches to interested subscribers
// (spec §4.6). It is only ever touched from the owning collection's single
// goroutine.
type subscriptionManager[T any, K comparable] struct {
	collID  string
	metrics *ops.Metrics
	nextID  int64
	subs    map[int64]*subscription[T, K]
	// onCountChange is invoked whenever the active subscriber count
	// transitions to/from zero, driving the GC timer (spec §4.3, §4.6).
	onCountChange func(count int)
}

func newSubscriptionManager[T any, K comparable](collID string, metrics *ops.Metrics) *subscriptionManager[T, K] {
	return &subscriptionManager[T, K]{
		collID:  collID,
		metrics: metrics,
		subs:    make(map[int64]*subscription[T, K]),
	}
}

func (m *subscriptionManager[T, K]) Count() int { return len(m.subs) }

// Add registers a new subscriber and returns its id. initial, if non-nil, is
// the synthetic initial-state batch to deliver immediately when
// IncludeInitialState was requested; the caller (Collection) is responsible
// for computing it from current visible state before calling Add.
func (m *subscriptionManager[T, K]) Add(opts SubscribeOptions[T, K], handler ChangeHandler[T, K], initial ChangeBatch[T, K]) int64 {
	m.nextID++
	var sub = &subscription[T, K]{id: m.nextID, opts: opts, handler: handler}
	m.subs[sub.id] = sub

	if len(initial) > 0 {
		handler(initial)
	}

	if m.metrics != nil {
		m.metrics.SubscriberCount.WithLabelValues(m.collID).Set(float64(len(m.subs)))
	}
	if len(m.subs) == 1 && m.onCountChange != nil {
		m.onCountChange(len(m.subs))
	}
	return sub.id
}

func (m *subscriptionManager[T, K]) Remove(id int64) {
	if _, ok := m.subs[id]; !ok {
		return
	}
	delete(m.subs, id)
	if m.metrics != nil {
		m.metrics.SubscriberCount.WithLabelValues(m.collID).Set(float64(len(m.subs)))
	}
	if len(m.subs) == 0 && m.onCountChange != nil {
		m.onCountChange(0)
	}
}

// Dispatch delivers batch to every matching subscriber, filtering per
// subscriber predicate. Batched subscribers accumulate into pending instead
// of calling their handler immediately.
func (m *subscriptionManager[T, K]) Dispatch(batch ChangeBatch[T, K]) {
	for _, sub := range m.subs {
		var filtered ChangeBatch[T, K]
		for _, msg := range batch {
			if sub.opts.matches(msg.Key, msg.Value) {
				filtered = append(filtered, msg)
			}
		}
		if len(filtered) == 0 {
			continue
		}
		if sub.opts.Batched {
			sub.pending = append(sub.pending, filtered...)
			continue
		}
		sub.handler(filtered)
	}
}

// Flush delivers and clears every batched subscriber's pending changes.
func (m *subscriptionManager[T, K]) Flush() {
	for _, sub := range m.subs {
		if len(sub.pending) == 0 {
			continue
		}
		var pending = sub.pending
		sub.pending = nil
		sub.handler(pending)
	}
}

func (m *subscriptionManager[T, K]) Cleanup() {
	m.subs = make(map[int64]*subscription[T, K])
	if m.metrics != nil {
		m.metrics.SubscriberCount.WithLabelValues(m.collID).Set(0)
	}
}
