// Package jsonio reads heterogeneous JSON inputs (array files, NDJSON
// streams, single objects) as a uniform stream of records.
//
// The package exists because schema inference needs two things the usual
// map[string]any decode cannot provide:
//   - object member order, which drives stable column ordering downstream
//   - the original number literal, so normalization never rewrites values
//
// Records are therefore decoded from the raw token stream into an explicit
// tagged Value, and re-encoded member-for-member when normalizing to NDJSON.
package jsonio

import (
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// Kind tags a Value. Null, Bool, Number and String are scalars; Array and
// Object are containers.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the lowercase kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Member is one key/value pair of an object, in source order.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. The zero Value is JSON null.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  []Member
}

// Kind reports the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsScalar reports whether v is null, bool, number or string.
func (v Value) IsScalar() bool { return v.kind <= KindString }

// Members returns the object members in source order. Nil for non-objects.
func (v Value) Members() []Member { return v.obj }

// Elems returns the array elements in source order. Nil for non-arrays.
func (v Value) Elems() []Value { return v.arr }

// DecodeValue reads one complete JSON value from dec.
//
// dec must have UseNumber set by the caller when number literals need to
// survive re-encoding; ParseValue and the stream readers in this package
// always set it.
func DecodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return valueFromToken(dec, tok)
}

// ParseValue decodes a single JSON value from b. Trailing non-space content
// after the value is an error, so a malformed NDJSON line never half-parses.
func ParseValue(b []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	v, err := DecodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("trailing content after JSON value")
	}
	return v, nil
}

// valueFromToken builds a Value for the JSON value whose first token has
// already been read. Containers are consumed token-by-token so object member
// order is preserved.
func valueFromToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var obj []Member
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("read object key: %w", err)
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key not a string (got %T)", kt)
				}
				vt, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("read value of %q: %w", key, err)
				}
				val, err := valueFromToken(dec, vt)
				if err != nil {
					return Value{}, err
				}
				obj = append(obj, Member{Key: key, Value: val})
			}
			end, err := dec.Token()
			if err != nil {
				return Value{}, fmt.Errorf("read object end: %w", err)
			}
			if end != json.Delim('}') {
				return Value{}, fmt.Errorf("expected '}', got %v", end)
			}
			return Value{kind: KindObject, obj: obj}, nil

		case '[':
			var arr []Value
			for dec.More() {
				vt, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("read array element: %w", err)
				}
				val, err := valueFromToken(dec, vt)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, val)
			}
			end, err := dec.Token()
			if err != nil {
				return Value{}, fmt.Errorf("read array end: %w", err)
			}
			if end != json.Delim(']') {
				return Value{}, fmt.Errorf("expected ']', got %v", end)
			}
			return Value{kind: KindArray, arr: arr}, nil

		default:
			return Value{}, fmt.Errorf("unexpected delimiter %q", t)
		}

	case nil:
		return Value{kind: KindNull}, nil
	case bool:
		return Value{kind: KindBool, b: t}, nil
	case json.Number:
		return Value{kind: KindNumber, num: t}, nil
	case string:
		return Value{kind: KindString, str: t}, nil
	case float64:
		// Defensive: only reachable when a caller forgot UseNumber.
		return Value{kind: KindNumber, num: json.Number(fmt.Sprintf("%v", t))}, nil
	default:
		return Value{}, fmt.Errorf("unexpected token %T", tok)
	}
}

// AppendJSON appends the compact JSON encoding of v to dst, preserving
// object member order and number literals.
func (v Value) AppendJSON(dst []byte) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...)
	case KindBool:
		if v.b {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case KindNumber:
		return append(dst, v.num.String()...)
	case KindString:
		return appendQuoted(dst, v.str)
	case KindArray:
		dst = append(dst, '[')
		for i, e := range v.arr {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = e.AppendJSON(dst)
		}
		return append(dst, ']')
	case KindObject:
		dst = append(dst, '{')
		for i, m := range v.obj {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendQuoted(dst, m.Key)
			dst = append(dst, ':')
			dst = m.Value.AppendJSON(dst)
		}
		return append(dst, '}')
	default:
		return append(dst, "null"...)
	}
}

// EncodeJSON returns the compact JSON encoding of v.
func (v Value) EncodeJSON() []byte { return v.AppendJSON(nil) }

// appendQuoted appends s as a JSON string literal.
func appendQuoted(dst []byte, s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		// Marshal of a string does not fail in practice.
		return append(append(append(dst, '"'), s...), '"')
	}
	return append(dst, b...)
}
