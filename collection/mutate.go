package collection

import (
	"github.com/flowcore/livedb/txn"
)

// Insert opens a new user transaction and immediately optimistically
// inserts value (spec §6 "insert/update/delete(key, fn|value) ->
// Transaction handle"). The caller commits it with a Handler that
// actually persists the write (e.g. via a sync.Adapter round trip).
func (c *Collection[T, K]) Insert(value T) (*txn.Transaction[T, K], error) {
	var key = c.opts.KeyOf(value)
	return c.mutate(key, txn.Insert, value)
}

// Update opens a new user transaction that optimistically overwrites key
// with value.
func (c *Collection[T, K]) Update(key K, value T) (*txn.Transaction[T, K], error) {
	return c.mutate(key, txn.Update, value)
}

// UpdateFn is the mutator-callback form of Update (spec §6
// "insert/update/delete(key, fn|value)"): fn receives key's current
// visible value (composed overlay-over-synced, per Get; the zero value if
// key doesn't currently resolve) and its return value becomes the
// optimistic write.
func (c *Collection[T, K]) UpdateFn(key K, fn func(T) T) (*txn.Transaction[T, K], error) {
	var current, _ = c.Get(key)
	return c.Update(key, fn(current))
}

// Delete opens a new user transaction that optimistically removes key.
func (c *Collection[T, K]) Delete(key K) (*txn.Transaction[T, K], error) {
	var zero T
	return c.mutate(key, txn.Delete, zero)
}

func (c *Collection[T, K]) mutate(key K, kind txn.Kind, value T) (*txn.Transaction[T, K], error) {
	if kind != txn.Delete && c.opts.Schema != nil {
		if err := c.opts.Schema.Validate(value); err != nil {
			return nil, err
		}
	}
	var t = txn.New[T, K](c)
	if err := t.Mutate(txn.Op[T, K]{Kind: kind, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return t, nil
}
