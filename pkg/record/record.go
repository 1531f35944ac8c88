package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is a single named value of a record.
type Field struct {
	Name  string
	Value Value
}

// F is shorthand for a present field.
func F(name string, v any) Field {
	return Field{Name: name, Value: Some(v)}
}

// Missing is shorthand for an absent field.
func Missing(name string) Field {
	return Field{Name: name, Value: None()}
}

// Record is an immutable, ordered mapping from field name to Value,
// keyed by the identifier that produced it.
type Record struct {
	// ID is the identifier the record was fetched for.
	ID string

	fields []Field
	index  map[string]int
}

// New builds a record. When a name repeats, the last value wins and the
// position of the first occurrence is kept.
func New(id string, fields ...Field) *Record {
	r := &Record{
		ID:     id,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if i, ok := r.index[f.Name]; ok {
			r.fields[i].Value = f.Value
			continue
		}
		r.index[f.Name] = len(r.fields)
		r.fields = append(r.fields, f)
	}
	return r
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.fields)
}

// Get returns the value of a field and whether the field exists.
// A field that exists may still hold an absent Value.
func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return None(), false
	}
	return r.fields[i].Value, true
}

// Has reports whether the record carries the named field.
func (r *Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Fields returns a copy of the ordered fields.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Without returns a copy of the record with the named fields removed.
// The receiver is not modified.
func (r *Record) Without(names ...string) *Record {
	if len(names) == 0 {
		return New(r.ID, r.fields...)
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := make([]Field, 0, len(r.fields))
	for _, f := range r.fields {
		if _, ok := drop[f.Name]; ok {
			continue
		}
		kept = append(kept, f)
	}
	return New(r.ID, kept...)
}

// Map returns the dictionary view of the record. Absent values map to nil.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		v, _ := f.Value.Get()
		m[f.Name] = v
	}
	return m
}

// Decode fills v (a pointer to a struct or map) from the record's fields
// using their JSON names. This is the attribute-object view of a record.
func (r *Record) Decode(v any) error {
	data, err := r.MarshalJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return nil
}

// MarshalJSON encodes the record as a JSON object with fields in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", f.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
