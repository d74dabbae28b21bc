package collection

import "reflect"

// deepEqual compares two arbitrary record values for the purpose of
// suppressing no-op change emission (e.g. idempotent re-sync, spec §8
// "Idempotence"). Records are applications-defined plain structs/maps, not
// a type the engine can require comparable or ask to implement its own
// equality -- reflect.DeepEqual is the standard library's answer to
// "structural equality of an arbitrary Go value" and nothing in the
// retrieved stack addresses that concern more specifically.
func deepEqual[T any](a, b T) bool {
	return reflect.DeepEqual(a, b)
}
