package collection

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ChangeType tags a ChangeMessage as described in spec §3.
type ChangeType int

const (
	Insert ChangeType = iota
	Update
	Delete
)

func (t ChangeType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeMessage is the tagged variant from spec §3:
// {insert, key, value} | {update, key, value, previousValue} | {delete, key, value}.
//
// PreviousValue is only meaningful when Type == Update; callers must not
// read it for Insert/Delete.
type ChangeMessage[T any, K comparable] struct {
	Type          ChangeType
	Key           K
	Value         T
	PreviousValue T
}

// Patch returns the JSON merge patch transforming PreviousValue into Value,
// for compact change auditing (spec §2.2 domain stack). Only meaningful
// for Type == Update; other types return an error.
func (m ChangeMessage[T, K]) Patch() ([]byte, error) {
	if m.Type != Update {
		return nil, errNotAnUpdate
	}
	var before, err = json.Marshal(m.PreviousValue)
	if err != nil {
		return nil, err
	}
	var after []byte
	after, err = json.Marshal(m.Value)
	if err != nil {
		return nil, err
	}
	return jsonpatch.CreateMergePatch(before, after)
}

func insertMsg[T any, K comparable](key K, value T) ChangeMessage[T, K] {
	return ChangeMessage[T, K]{Type: Insert, Key: key, Value: value}
}

func updateMsg[T any, K comparable](key K, value, previous T) ChangeMessage[T, K] {
	return ChangeMessage[T, K]{Type: Update, Key: key, Value: value, PreviousValue: previous}
}

func deleteMsg[T any, K comparable](key K, value T) ChangeMessage[T, K] {
	return ChangeMessage[T, K]{Type: Delete, Key: key, Value: value}
}

// ChangeBatch is an ordered, immutable set of ChangeMessages delivered to
// subscribers in a single call (spec §5: "Subscriber notifications for a
// single effective change batch are delivered in a single call with an
// ordered array").
type ChangeBatch[T any, K comparable] []ChangeMessage[T, K]
