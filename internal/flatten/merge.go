package flatten

import (
	"fmt"

	"jsonquery/internal/jsonio"
)

// Merger accumulates Walk observations across a sample into one schema.
//
// Merge rules:
//   - Column order is first-seen order across the whole sample.
//   - A path seen as both Scalar and JSONPassthrough merges to
//     JSONPassthrough: passthrough preserves every representation, while
//     a scalar column would silently lose the container records.
//   - Two distinct paths collapsing to one ColumnName is a fatal schema
//     conflict reported by Finalize; downstream SQL cannot disambiguate
//     same-named columns.
//
// The zero Merger is not usable; call NewMerger.
type Merger struct {
	order []string
	kinds map[string]ColumnKind
	paths map[string]FieldPath
}

func NewMerger() *Merger {
	return &Merger{
		kinds: make(map[string]ColumnKind),
		paths: make(map[string]FieldPath),
	}
}

// Observe records one (path, kind) observation. Same-kind repeats are
// no-ops; a Scalar/JSONPassthrough disagreement downgrades the path to
// JSONPassthrough. Observing different container shapes at one path (empty
// vs populated array, object vs array) is compatible, not a conflict.
func (m *Merger) Observe(p FieldPath, k ColumnKind) {
	key := p.key()
	if prev, ok := m.kinds[key]; ok {
		if prev != k {
			m.kinds[key] = JSONPassthrough
		}
		return
	}
	m.order = append(m.order, key)
	m.kinds[key] = k
	m.paths[key] = p
}

// ObserveRecord walks one record into the merger.
func (m *Merger) ObserveRecord(v jsonio.Value) {
	Walk(v, m.Observe)
}

// Len reports the number of distinct paths observed so far.
func (m *Merger) Len() int { return len(m.order) }

// Finalize resolves column names and returns the finished schema.
//
// It fails fast when two distinct paths map to the same column name, or
// when a source key claims the reserved raw_json column; the error names
// every conflicting path so the operator can rename the source key.
func (m *Merger) Finalize() (Schema, error) {
	s := Schema{Columns: make([]ColumnSpec, 0, len(m.order))}
	byName := make(map[string]FieldPath, len(m.order)+1)
	byName[RawColumn] = nil

	for _, key := range m.order {
		p := m.paths[key]
		name := ColumnName(p)

		if prev, taken := byName[name]; taken {
			if name == RawColumn {
				return Schema{}, fmt.Errorf("field %s maps to column %q, which is reserved for the full-record passthrough; rename the source key", p, RawColumn)
			}
			return Schema{}, fmt.Errorf("column name collision: %q is generated by both %s and %s; rename one of the source keys (the %q separator makes them indistinguishable)", name, prev, p, Separator)
		}
		byName[name] = p

		s.Columns = append(s.Columns, ColumnSpec{Path: p, Name: name, Kind: m.kinds[key]})
	}
	return s, nil
}
