// Package optional provides an explicit present/absent marker for partial
// updates decoded from JSON.
package optional

import "encoding/json"

// Value holds a field that may be absent from a request. A field present with
// a JSON null is Set with the zero value of T (use a pointer T to tell null
// apart from a real zero).
type Value[T any] struct {
	Set bool
	V   T
}

// Of returns a present Value.
func Of[T any](v T) Value[T] { return Value[T]{Set: true, V: v} }

// Get returns the value and whether it was present.
func (o Value[T]) Get() (T, bool) { return o.V, o.Set }

// UnmarshalJSON is only invoked by encoding/json for keys present in the
// payload, which is what marks the field as Set.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		var zero T
		o.V = zero
		return nil
	}
	return json.Unmarshal(data, &o.V)
}

// MarshalJSON encodes the held value (null when absent).
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.V)
}
