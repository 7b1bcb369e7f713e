// Package postgres implements the server-backed engine for teams that want
// the flattened dataset reachable from shared infrastructure. The flat
// relation lives as a table in the target database; v fronts it like the
// embedded backends.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"jsonquery/internal/engine"
)

func init() {
	engine.Register("postgres", New)
}

type Engine struct {
	db *sql.DB
}

// New connects to the server at cfg.DSN (any libpq-style DSN or URL pgx
// accepts). MemoryLimit and TempDir are server settings and are ignored.
func New(ctx context.Context, cfg engine.Config) (engine.Engine, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) LoadRaw(ctx context.Context, ndjsonPath string) error {
	// The view depends on flat, which depends on raw; drop top-down so a
	// rebuild never trips a dependency error.
	for _, stmt := range []string{
		"DROP VIEW IF EXISTS v",
		"DROP TABLE IF EXISTS flat",
		"DROP TABLE IF EXISTS raw",
		"CREATE TABLE raw (raw_json text NOT NULL)",
	} {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: %s: %w", stmt, err)
		}
	}
	if _, err := engine.LoadNDJSONRows(ctx, e.db, "INSERT INTO raw (raw_json) VALUES ($1)", ndjsonPath); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

func (e *Engine) Materialize(ctx context.Context, selectSQL, _, _ string) error {
	for _, stmt := range []string{
		"DROP VIEW IF EXISTS v",
		"DROP TABLE IF EXISTS flat",
		"CREATE TABLE flat AS " + selectSQL,
	} {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: materialize flat: %w", err)
		}
	}
	return nil
}

func (e *Engine) EnsureView(ctx context.Context, _ string) error {
	var exists bool
	if err := e.db.QueryRowContext(ctx, "SELECT to_regclass('flat') IS NOT NULL").Scan(&exists); err != nil {
		return fmt.Errorf("postgres: inspect schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("postgres: flat table not found; run to-parquet (or build) first")
	}
	// DROP+CREATE rather than CREATE OR REPLACE: the column set changes
	// between builds, which OR REPLACE refuses.
	if _, err := e.db.ExecContext(ctx, "DROP VIEW IF EXISTS v"); err != nil {
		return fmt.Errorf("postgres: drop view: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, "CREATE VIEW v AS SELECT * FROM flat"); err != nil {
		return fmt.Errorf("postgres: create view: %w", err)
	}
	return nil
}

func (e *Engine) Query(ctx context.Context, query string, limit int) (*engine.Result, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()
	return engine.CollectRows(rows, limit)
}

func (e *Engine) ExportCSV(ctx context.Context, query, outPath string) error {
	if err := engine.ExportRows(ctx, e.db, query, outPath); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

var _ engine.Engine = (*Engine)(nil)
