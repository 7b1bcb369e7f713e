// Package engine defines the columnar builder / query executor seam and its
// backend registry.
//
// The inference core hands a finished extraction SELECT to an Engine; the
// engine owns everything stateful: loading the normalized NDJSON into the
// raw staging table, materializing the flat dataset, maintaining the v view,
// and answering ad-hoc SQL. Backends register themselves from their own
// packages so binaries link only the engines they import.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config carries engine connection settings.
type Config struct {
	// DSN is the database location: a file path for embedded engines
	// (duckdb, sqlite), a server DSN for postgres and mssql.
	DSN string
	// MemoryLimit caps engine memory where the backend supports it
	// (e.g. "4GB" for duckdb). Empty means the backend default.
	MemoryLimit string
	// TempDir is where the engine may spill, where supported.
	TempDir string
}

// Result is a fully fetched query result. Values are driver values with
// []byte already converted to string; nil means SQL NULL.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Engine is one columnar builder / query executor backend.
//
// Lifecycle per build: LoadRaw → Materialize; per query session:
// EnsureView → Query/ExportCSV. Engines must be safe to reopen against the
// same database; every DDL they issue is idempotent.
type Engine interface {
	// LoadRaw (re)creates the single-column raw staging table from the
	// normalized NDJSON file, one row per line.
	LoadRaw(ctx context.Context, ndjsonPath string) error

	// Materialize builds the flat dataset from the extraction SELECT.
	// dataset and compression are honored by engines that write files
	// (duckdb/Parquet) and ignored by engines that keep the flat relation
	// in the database.
	Materialize(ctx context.Context, selectSQL, dataset, compression string) error

	// EnsureView (re)creates the v view over the materialized dataset.
	EnsureView(ctx context.Context, dataset string) error

	// Query runs sql and fetches up to limit rows (0 = all).
	Query(ctx context.Context, sql string, limit int) (*Result, error)

	// ExportCSV runs sql and writes the result, with a header row, to
	// outPath.
	ExportCSV(ctx context.Context, sql, outPath string) error

	Close() error
}

// Factory opens an engine against cfg.
type Factory func(ctx context.Context, cfg Config) (Engine, error)

var (
	mu        sync.Mutex
	factories = map[string]Factory{}
)

// Register makes an engine backend available under name. Backends call it
// from init; registering a duplicate name panics, as that is a programmer
// error.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("engine: duplicate backend %q", name))
	}
	factories[name] = f
}

// Open opens the backend registered under name.
func Open(ctx context.Context, name string, cfg Config) (Engine, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine backend %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return f(ctx, cfg)
}

// Names lists registered backends, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
