// Package record defines the data model shared by the bulk fetch pipeline:
// optional field values, ordered records, per-identifier outcomes and the
// ordered result set returned by a run.
package record

import (
	"encoding/json"
	"fmt"
)

// Value is an optional field value. The zero Value is absent.
type Value struct {
	v       any
	present bool
}

// Some wraps v as a present value. A nil v is still present (JSON null).
func Some(v any) Value {
	return Value{v: v, present: true}
}

// None returns an absent value.
func None() Value {
	return Value{}
}

// IsPresent reports whether the field carried a value.
func (v Value) IsPresent() bool {
	return v.present
}

// Get returns the wrapped value and whether it is present.
func (v Value) Get() (any, bool) {
	return v.v, v.present
}

// OrElse returns the wrapped value, or def when absent.
func (v Value) OrElse(def any) any {
	if !v.present {
		return def
	}
	return v.v
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if !v.present {
		return "<none>"
	}
	return fmt.Sprint(v.v)
}

// MarshalJSON encodes absent values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}
