package engine

import (
	"context"
	"strings"
	"testing"
)

type stubEngine struct{ Engine }

func TestRegistry(t *testing.T) {
	// No t.Parallel: the registry is package-global state.

	opened := 0
	Register("stub", func(ctx context.Context, cfg Config) (Engine, error) {
		opened++
		if cfg.DSN != "stub.db" {
			t.Errorf("factory got DSN %q, want stub.db", cfg.DSN)
		}
		return stubEngine{}, nil
	})

	e, err := Open(context.Background(), "stub", Config{DSN: "stub.db"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if e == nil || opened != 1 {
		t.Fatalf("factory not invoked (opened=%d)", opened)
	}

	names := Names()
	found := false
	for _, n := range names {
		if n == "stub" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v, missing stub", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Names() not sorted: %v", names)
		}
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "no-such-backend", Config{})
	if err == nil {
		t.Fatal("want error for unknown backend")
	}
	if !strings.Contains(err.Error(), "no-such-backend") {
		t.Errorf("error %q does not name the backend", err)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want panic on duplicate registration")
		}
	}()
	f := func(context.Context, Config) (Engine, error) { return nil, nil }
	Register("dup", f)
	Register("dup", f)
}

func TestRenderValue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{int64(7), "7"},
		{3.5, "3.5"},
		{true, "true"},
	}
	for _, tc := range cases {
		if got := RenderValue(tc.in); got != tc.want {
			t.Errorf("RenderValue(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
