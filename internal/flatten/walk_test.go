package flatten

import (
	"fmt"
	"strings"
	"testing"

	"jsonquery/internal/jsonio"
)

// observe walks one parsed record and renders the observations as
// "name:kind" strings in emit order.
func observe(t *testing.T, record string) []string {
	t.Helper()
	v, err := jsonio.ParseValue([]byte(record))
	if err != nil {
		t.Fatalf("ParseValue(%s): %v", record, err)
	}
	var got []string
	Walk(v, func(p FieldPath, k ColumnKind) {
		got = append(got, fmt.Sprintf("%s:%s", ColumnName(p), k))
	})
	return got
}

func TestWalk(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		record string
		want   []string
	}{
		{
			name:   "flat scalars in source order",
			record: `{"b":1,"a":"x","c":true,"d":null}`,
			want:   []string{"b:scalar", "a:scalar", "c:scalar", "d:scalar"},
		},
		{
			name:   "nested object emits its own path then descends",
			record: `{"a":{"b":1},"c":[1,2]}`,
			want:   []string{"a:json", "a__b:scalar", "c:json"},
		},
		{
			name:   "arrays stay opaque even when they hold objects",
			record: `{"tags":[{"k":"v"}]}`,
			want:   []string{"tags:json"},
		},
		{
			name:   "deep nesting",
			record: `{"a":{"b":{"c":1}}}`,
			want:   []string{"a:json", "a__b:json", "a__b__c:scalar"},
		},
		{
			name:   "empty containers",
			record: `{"o":{},"a":[]}`,
			want:   []string{"o:json", "a:json"},
		},
		{
			name:   "scalar root",
			record: `42`,
			want:   []string{"root:scalar"},
		},
		{
			name:   "array root",
			record: `[1,2]`,
			want:   []string{"root:json"},
		},
		{
			name:   "null root",
			record: `null`,
			want:   []string{"root:scalar"},
		},
		{
			name:   "empty object root",
			record: `{}`,
			want:   nil,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := observe(t, tc.record)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Errorf("observations = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFieldPathString(t *testing.T) {
	t.Parallel()

	if got := (FieldPath{}).String(); got != "$" {
		t.Errorf("empty path String = %q, want $", got)
	}
	if got := (FieldPath{"a", "b.c"}).String(); got != "a.b.c" {
		t.Errorf("String = %q", got)
	}
}
