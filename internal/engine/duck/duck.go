// Package duck implements the default engine backend on DuckDB.
//
// This is the backend the artifact contract is written for: the flat table
// is copied out as a Parquet dataset and the v view reads it back through
// read_parquet, so queries run against the columnar files rather than the
// working database.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"jsonquery/internal/engine"
)

func init() {
	engine.Register("duckdb", New)
}

type Engine struct {
	db *sql.DB
}

// New opens (creating if needed) the DuckDB database at cfg.DSN and applies
// the memory-limit and temp-directory pragmas when configured.
func New(ctx context.Context, cfg engine.Config) (engine.Engine, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("duckdb: database path required")
	}
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open %s: %w", cfg.DSN, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdb: ping %s: %w", cfg.DSN, err)
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA memory_limit=%s", quote(cfg.MemoryLimit))); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("duckdb: set memory limit: %w", err)
		}
	}
	if cfg.TempDir != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA temp_directory=%s", quote(filepath.ToSlash(cfg.TempDir)))); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("duckdb: set temp directory: %w", err)
		}
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error { return e.db.Close() }

// LoadRaw reads the NDJSON file as a single-VARCHAR-column CSV with no
// quoting, which loads each line verbatim into raw.raw_json without the
// engine attempting to parse the JSON up front.
func (e *Engine) LoadRaw(ctx context.Context, ndjsonPath string) error {
	stmt := fmt.Sprintf(`CREATE OR REPLACE TABLE raw AS
SELECT line AS raw_json
FROM read_csv(%s,
              delim='\n',
              header=false,
              columns={'line':'VARCHAR'},
              quote='',
              escape='')`, quote(filepath.ToSlash(ndjsonPath)))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("duckdb: load raw from %s: %w", ndjsonPath, err)
	}
	return nil
}

// Materialize rebuilds the flat table from the extraction SELECT and copies
// it out as Parquet.
func (e *Engine) Materialize(ctx context.Context, selectSQL, dataset, compression string) error {
	if compression == "" {
		compression = "ZSTD"
	}
	if _, err := e.db.ExecContext(ctx, "CREATE OR REPLACE TABLE flat AS "+selectSQL); err != nil {
		return fmt.Errorf("duckdb: materialize flat: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dataset), 0o755); err != nil {
		return fmt.Errorf("duckdb: create dataset parent: %w", err)
	}
	copyStmt := fmt.Sprintf("COPY flat TO %s (FORMAT PARQUET, COMPRESSION %s)",
		quote(filepath.ToSlash(dataset)), quote(compression))
	if _, err := e.db.ExecContext(ctx, copyStmt); err != nil {
		return fmt.Errorf("duckdb: copy flat to %s: %w", dataset, err)
	}
	return nil
}

// EnsureView points v at the Parquet dataset. A dataset directory with no
// part files fails fast instead of quietly producing an empty view.
func (e *Engine) EnsureView(ctx context.Context, dataset string) error {
	st, err := os.Stat(dataset)
	if err != nil {
		return fmt.Errorf("duckdb: dataset not found: %s", dataset)
	}

	target := filepath.ToSlash(dataset)
	if st.IsDir() {
		parts, err := filepath.Glob(filepath.Join(dataset, "*.parquet"))
		if err == nil && len(parts) == 0 {
			return fmt.Errorf("duckdb: dataset directory has no .parquet files: %s", dataset)
		}
		target = strings.TrimRight(target, "/") + "/*.parquet"
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE VIEW v AS SELECT * FROM read_parquet(%s)", quote(target))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("duckdb: create view: %w", err)
	}
	return nil
}

func (e *Engine) Query(ctx context.Context, query string, limit int) (*engine.Result, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query: %w", err)
	}
	defer rows.Close()
	return engine.CollectRows(rows, limit)
}

// ExportCSV delegates to the engine's COPY, which streams without pulling
// the result through the client.
func (e *Engine) ExportCSV(ctx context.Context, query, outPath string) error {
	stmt := fmt.Sprintf("COPY (\n%s\n) TO %s (HEADER, DELIMITER ',')", query, quote(filepath.ToSlash(outPath)))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("duckdb: export csv to %s: %w", outPath, err)
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var _ engine.Engine = (*Engine)(nil)
