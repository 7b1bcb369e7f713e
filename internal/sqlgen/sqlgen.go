// Package sqlgen renders a finalized schema into the extraction SQL consumed
// by the engine backends: one select-expression per column over the raw JSON
// text, plus a view definition over the materialized dataset.
//
// Rendering is deterministic: identical schema input produces byte-identical
// SQL, so regenerating the artifact is idempotent and diffs stay readable.
//
// SQL is assembled as plain text, the same way the storage backends build
// their DDL; expressions only ever embed escaped path literals, never user
// data.
package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"jsonquery/internal/flatten"
)

// RawTable is the single-column staging table every engine loads NDJSON
// into; the generated SELECT always reads from it.
const RawTable = "raw"

// ViewName is the view all downstream querying goes through.
const ViewName = "v"

// Dialect renders backend-specific extraction expressions.
type Dialect interface {
	// Name is the registry name, matching the engine backend name.
	Name() string
	// ScalarExpr extracts the value at p from the raw JSON as text.
	ScalarExpr(p flatten.FieldPath) string
	// PassthroughExpr extracts the JSON subtree at p as JSON text.
	PassthroughExpr(p flatten.FieldPath) string
	// ViewSQL (re)defines the view over the materialized dataset.
	ViewSQL(dataset string) string
}

var dialects = map[string]Dialect{}

func register(d Dialect) { dialects[d.Name()] = d }

// DialectFor returns the dialect for an engine backend name.
func DialectFor(backend string) (Dialect, error) {
	d, ok := dialects[backend]
	if !ok {
		return nil, fmt.Errorf("no SQL dialect for backend %q (have %s)", backend, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists registered dialects, sorted.
func Names() []string {
	out := make([]string, 0, len(dialects))
	for n := range dialects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Select renders the full extraction SELECT for s. The projection starts
// with the reserved raw_json passthrough so queries can always reach fields
// outside the inferred schema, then one expression per column in schema
// order.
func Select(d Dialect, s flatten.Schema) string {
	var b strings.Builder
	b.WriteString("SELECT\n  ")
	b.WriteString(flatten.RawColumn)
	for _, c := range s.Columns {
		b.WriteString(",\n  ")
		switch c.Kind {
		case flatten.Scalar:
			b.WriteString(d.ScalarExpr(c.Path))
		default:
			b.WriteString(d.PassthroughExpr(c.Path))
		}
		b.WriteString(" AS ")
		b.WriteString(c.Name)
	}
	b.WriteString("\nFROM ")
	b.WriteString(RawTable)
	return b.String()
}

// Artifact renders the persisted SQL artifact: the extraction SELECT and the
// view statement, each terminated, separated by a blank line.
func Artifact(d Dialect, s flatten.Schema, dataset string) string {
	return Select(d, s) + ";\n\n" + d.ViewSQL(dataset) + "\n"
}

// SelectFromArtifact recovers the extraction SELECT from a previously
// written artifact. The cut anchors on the terminated FROM clause Select
// always renders, not on the first semicolon: path literals quote raw key
// text, so a key containing ';' would otherwise truncate the statement
// mid-literal.
func SelectFromArtifact(artifact string) (string, error) {
	const term = "\nFROM " + RawTable + ";"
	i := strings.Index(artifact, term)
	if i < 0 {
		return "", fmt.Errorf("schema artifact has no terminated SELECT statement")
	}
	sel := strings.TrimSpace(artifact[:i+len(term)-1])
	if !strings.HasPrefix(sel, "SELECT") {
		return "", fmt.Errorf("schema artifact does not start with a SELECT statement")
	}
	return sel, nil
}
