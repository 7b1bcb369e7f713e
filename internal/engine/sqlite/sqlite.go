// Package sqlite implements the embedded fallback engine backend.
//
// SQLite cannot write Parquet, so the "dataset" here is the flat table
// inside the database file and the v view fronts it directly. Everything
// else (raw staging, extraction SELECT, query surface) matches the other
// backends, so operators can move between engines without relearning the
// pipeline.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"jsonquery/internal/engine"
)

func init() {
	engine.Register("sqlite", New)
}

type Engine struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at cfg.DSN.
// MemoryLimit and TempDir are not applicable and are ignored.
func New(ctx context.Context, cfg engine.Config) (engine.Engine, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite: database path required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.DSN, err)
	}
	// A single connection keeps the writer path simple and avoids
	// SQLITE_BUSY between the load transaction and later DDL.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", cfg.DSN, err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) LoadRaw(ctx context.Context, ndjsonPath string) error {
	if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS raw"); err != nil {
		return fmt.Errorf("sqlite: drop raw: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, "CREATE TABLE raw (raw_json TEXT NOT NULL)"); err != nil {
		return fmt.Errorf("sqlite: create raw: %w", err)
	}
	if _, err := engine.LoadNDJSONRows(ctx, e.db, "INSERT INTO raw (raw_json) VALUES (?)", ndjsonPath); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

// Materialize rebuilds the flat table from the extraction SELECT. dataset
// and compression are meaningless for an in-database table and are ignored.
func (e *Engine) Materialize(ctx context.Context, selectSQL, _, _ string) error {
	if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS flat"); err != nil {
		return fmt.Errorf("sqlite: drop flat: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, "CREATE TABLE flat AS "+selectSQL); err != nil {
		return fmt.Errorf("sqlite: materialize flat: %w", err)
	}
	return nil
}

func (e *Engine) EnsureView(ctx context.Context, _ string) error {
	var n int
	if err := e.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type='table' AND name='flat'").Scan(&n); err != nil {
		return fmt.Errorf("sqlite: inspect schema: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: flat table not found; run to-parquet (or build) first")
	}
	if _, err := e.db.ExecContext(ctx, "DROP VIEW IF EXISTS v"); err != nil {
		return fmt.Errorf("sqlite: drop view: %w", err)
	}
	if _, err := e.db.ExecContext(ctx, "CREATE VIEW v AS SELECT * FROM flat"); err != nil {
		return fmt.Errorf("sqlite: create view: %w", err)
	}
	return nil
}

func (e *Engine) Query(ctx context.Context, query string, limit int) (*engine.Result, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()
	return engine.CollectRows(rows, limit)
}

func (e *Engine) ExportCSV(ctx context.Context, query, outPath string) error {
	if err := engine.ExportRows(ctx, e.db, query, outPath); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	return nil
}

var _ engine.Engine = (*Engine)(nil)
