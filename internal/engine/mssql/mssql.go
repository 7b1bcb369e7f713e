// Package mssql implements the SQL Server engine backend. T-SQL has no
// CREATE TABLE AS, so materialization rewrites the extraction SELECT into
// its SELECT ... INTO form; the generated SELECT's FROM clause layout is
// part of the sqlgen contract this relies on.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"jsonquery/internal/engine"
)

func init() {
	engine.Register("mssql", New)
}

type Engine struct {
	db *sql.DB
}

// New connects to the server at cfg.DSN (sqlserver:// URL or ADO string).
// MemoryLimit and TempDir are server settings and are ignored.
func New(ctx context.Context, cfg engine.Config) (engine.Engine, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mssql: dsn required")
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) LoadRaw(ctx context.Context, ndjsonPath string) error {
	for _, stmt := range []string{
		"DROP VIEW IF EXISTS v",
		"DROP TABLE IF EXISTS flat",
		"DROP TABLE IF EXISTS raw",
		"CREATE TABLE raw (raw_json NVARCHAR(MAX) NOT NULL)",
	} {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: %s: %w", stmt, err)
		}
	}
	if _, err := engine.LoadNDJSONRows(ctx, e.db, "INSERT INTO raw (raw_json) VALUES (@p1)", ndjsonPath); err != nil {
		return fmt.Errorf("mssql: %w", err)
	}
	return nil
}

func (e *Engine) Materialize(ctx context.Context, selectSQL, _, _ string) error {
	into, err := selectInto(selectSQL)
	if err != nil {
		return fmt.Errorf("mssql: %w", err)
	}
	for _, stmt := range []string{
		"DROP VIEW IF EXISTS v",
		"DROP TABLE IF EXISTS flat",
		into,
	} {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: materialize flat: %w", err)
		}
	}
	return nil
}

// selectInto rewrites the extraction SELECT into SELECT ... INTO flat form.
func selectInto(selectSQL string) (string, error) {
	const from = "\nFROM raw"
	if !strings.Contains(selectSQL, from) {
		return "", fmt.Errorf("extraction SELECT missing %q clause; regenerate the schema artifact", strings.TrimSpace(from))
	}
	return strings.Replace(selectSQL, from, "\nINTO flat"+from, 1), nil
}

func (e *Engine) EnsureView(ctx context.Context, _ string) error {
	var n int
	if err := e.db.QueryRowContext(ctx, "SELECT count(*) FROM sys.tables WHERE name = 'flat'").Scan(&n); err != nil {
		return fmt.Errorf("mssql: inspect schema: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mssql: flat table not found; run to-parquet (or build) first")
	}
	if _, err := e.db.ExecContext(ctx, "CREATE OR ALTER VIEW v AS SELECT * FROM flat"); err != nil {
		return fmt.Errorf("mssql: create view: %w", err)
	}
	return nil
}

func (e *Engine) Query(ctx context.Context, query string, limit int) (*engine.Result, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mssql: query: %w", err)
	}
	defer rows.Close()
	return engine.CollectRows(rows, limit)
}

func (e *Engine) ExportCSV(ctx context.Context, query, outPath string) error {
	if err := engine.ExportRows(ctx, e.db, query, outPath); err != nil {
		return fmt.Errorf("mssql: %w", err)
	}
	return nil
}

var _ engine.Engine = (*Engine)(nil)
