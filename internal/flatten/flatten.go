// Package flatten infers a flat column schema from a bounded sample of JSON
// records.
//
// The package implements "policy A" flattening:
//   - scalar fields become string-typed columns
//   - nested objects are walked, and their subtree also stays addressable
//     as an opaque JSON column at the object's own path
//   - arrays are never exploded; they stay opaque JSON columns
//
// Design constraints:
//   - Inference is a pure function of the sample: same records in, same
//     schema out, byte-for-byte.
//   - Memory is bounded by the sample size, never by the dataset size.
//   - Per-record parse failures are counted, not fatal; structural schema
//     conflicts (column name collisions) are fatal.
package flatten

import (
	"strings"

	"jsonquery/internal/jsonio"
)

// FieldPath is the sequence of object keys from the record root to a value.
// An empty path addresses the record root itself (non-object roots).
type FieldPath []string

// String renders the path dotted for diagnostics, e.g. "httpRequest.remoteIp".
// The record root is rendered "$".
func (p FieldPath) String() string {
	if len(p) == 0 {
		return "$"
	}
	return strings.Join(p, ".")
}

// key returns a collision-free map key for p. Segments may contain dots, so
// String() is not usable as an identity.
func (p FieldPath) key() string {
	return strings.Join(p, "\x1f")
}

// ColumnKind says how a column is materialized.
type ColumnKind int

const (
	// Scalar columns hold the field value extracted as text. Always
	// string-typed; queries cast explicitly when they need numbers.
	Scalar ColumnKind = iota
	// JSONPassthrough columns hold the original JSON text of the subtree.
	JSONPassthrough
)

func (k ColumnKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case JSONPassthrough:
		return "json"
	default:
		return "unknown"
	}
}

// ColumnSpec is one finalized column of a schema.
type ColumnSpec struct {
	Path FieldPath
	Name string
	Kind ColumnKind
}

// Schema is the ordered, conflict-resolved column set for one build.
// Column order is first-seen order across the sample.
type Schema struct {
	Columns []ColumnSpec
}

// Walk enumerates every addressable field of one record, depth-first in
// source order, and reports (path, kind) observations to emit.
//
// Classification dispatches purely on the value kind:
//   - null/bool/number/string: Scalar leaf
//   - object: JSONPassthrough at its own path, then descend
//   - array: JSONPassthrough, no descent
//
// A root that is not an object yields exactly one observation with the
// empty path; the merger names that column "root".
func Walk(v jsonio.Value, emit func(FieldPath, ColumnKind)) {
	switch {
	case v.Kind() == jsonio.KindObject:
		walkObject(v, nil, emit)
	case v.Kind() == jsonio.KindArray:
		emit(nil, JSONPassthrough)
	default:
		emit(nil, Scalar)
	}
}

func walkObject(v jsonio.Value, prefix FieldPath, emit func(FieldPath, ColumnKind)) {
	for _, m := range v.Members() {
		p := make(FieldPath, len(prefix)+1)
		copy(p, prefix)
		p[len(prefix)] = m.Key

		switch m.Value.Kind() {
		case jsonio.KindObject:
			emit(p, JSONPassthrough)
			walkObject(m.Value, p, emit)
		case jsonio.KindArray:
			emit(p, JSONPassthrough)
		default:
			emit(p, Scalar)
		}
	}
}
