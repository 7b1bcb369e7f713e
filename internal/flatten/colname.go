package flatten

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Separator joins path segments into column names. This is the bit-exact
// contract with every downstream SQL consumer: nested key a.b.c is always
// column a__b__c.
const Separator = "__"

// RootColumn names the single column of a record whose root is not an
// object (a bare scalar or array).
const RootColumn = "root"

// RawColumn carries the entire original record and is reserved: no source
// key may map onto it.
const RawColumn = "raw_json"

// deaccent strips combining marks after NFKD decomposition, so "café"
// sanitizes to "cafe" instead of "caf_".
var deaccent = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ColumnName maps a FieldPath to its SQL column name: each segment is
// sanitized to [A-Za-z0-9_] and segments are joined with Separator.
//
// The mapping is not injective in general (a literal key "a__b" collides
// with the nested path a.b, and sanitization can fold distinct specials
// together); Merger.Finalize rejects any such collision.
func ColumnName(p FieldPath) string {
	if len(p) == 0 {
		return RootColumn
	}
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = sanitizeSegment(seg)
	}
	return strings.Join(parts, Separator)
}

// sanitizeSegment makes one key segment a safe identifier fragment. Runs of
// disallowed runes collapse to a single underscore, matching the column
// names operators already write by hand.
func sanitizeSegment(seg string) string {
	if t, _, err := transform.String(deaccent, seg); err == nil {
		seg = t
	}

	var b strings.Builder
	b.Grow(len(seg))
	lastUnderscore := false
	for _, r := range seg {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
