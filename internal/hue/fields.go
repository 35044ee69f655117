package hue

import (
	"encoding/json"
	"fmt"
	"slices"
)

// fieldDef is one entry of a per-type field table. merge copies the field
// from a freshly decoded snapshot and reports whether it differed; apply
// decodes a single value confirmed by the bridge into the field.
type fieldDef[T any] struct {
	name  string
	merge func(dst, src *T) bool
	apply func(dst *T, raw json.RawMessage) error
}

// fieldTable is built once per entity type and keyed by wire name.
type fieldTable[T any] struct {
	fields []fieldDef[T]
	byName map[string]int
}

func newFieldTable[T any](defs ...fieldDef[T]) *fieldTable[T] {
	t := &fieldTable[T]{
		fields: defs,
		byName: make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		t.byName[d.name] = i
	}
	return t
}

// merge updates dst from src field by field. Every field is visited even
// after the first difference so dst ends up fully in sync.
func (t *fieldTable[T]) merge(dst, src *T) bool {
	changed := false
	for _, f := range t.fields {
		if f.merge(dst, src) {
			changed = true
		}
	}
	return changed
}

// apply writes one confirmed value. It returns false for wire names the
// table does not know.
func (t *fieldTable[T]) apply(dst *T, name string, raw json.RawMessage) (bool, error) {
	i, ok := t.byName[name]
	if !ok {
		return false, nil
	}
	if err := t.fields[i].apply(dst, raw); err != nil {
		return true, fmt.Errorf("failed to apply %s: %w", name, err)
	}
	return true, nil
}

func valueField[T any, V comparable](name string, get func(*T) *V) fieldDef[T] {
	return fieldDef[T]{
		name: name,
		merge: func(dst, src *T) bool {
			d, s := get(dst), get(src)
			if *d == *s {
				return false
			}
			*d = *s
			return true
		},
		apply: func(dst *T, raw json.RawMessage) error {
			return json.Unmarshal(raw, get(dst))
		},
	}
}

// listField compares by sequence, not by slice identity.
func listField[T any, V comparable](name string, get func(*T) *[]V) fieldDef[T] {
	return fieldDef[T]{
		name: name,
		merge: func(dst, src *T) bool {
			d, s := get(dst), get(src)
			if slices.Equal(*d, *s) {
				return false
			}
			*d = slices.Clone(*s)
			return true
		},
		apply: func(dst *T, raw json.RawMessage) error {
			var v []V
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*get(dst) = v
			return nil
		},
	}
}

// nestedField merges a sub-entity in place so references to it stay valid.
func nestedField[T, N any](name string, get func(*T) *N, table *fieldTable[N]) fieldDef[T] {
	return fieldDef[T]{
		name: name,
		merge: func(dst, src *T) bool {
			return table.merge(get(dst), get(src))
		},
		apply: func(dst *T, raw json.RawMessage) error {
			// Partial objects only touch the members they carry.
			return json.Unmarshal(raw, get(dst))
		},
	}
}
