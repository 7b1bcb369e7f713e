package engine

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Helpers shared by the database/sql backends. The duckdb backend bypasses
// ExportRows (the engine's own COPY is faster and streams), but uses
// CollectRows for interactive queries like everyone else.

// CollectRows fetches up to limit rows (0 = all) from rows into a Result,
// converting []byte values to string so callers see text, not driver blobs.
func CollectRows(rows *sql.Rows, limit int) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	res := &Result{Columns: cols}
	scan := make([]any, len(cols))
	for rows.Next() {
		if limit > 0 && len(res.Rows) >= limit {
			break
		}
		ptrs := make([]any, len(cols))
		for i := range scan {
			ptrs[i] = &scan[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(res.Rows)+1, err)
		}
		row := make([]any, len(cols))
		for i, v := range scan {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
				continue
			}
			row[i] = v
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result: %w", err)
	}
	return res, nil
}

// RenderValue renders one result value for text output. NULL renders empty,
// matching CSV export behavior.
func RenderValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ExportRows runs query on db and writes the result as CSV with a header
// row to outPath. NULLs become empty cells.
func ExportRows(ctx context.Context, db *sql.DB, query, outPath string) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read result columns: %w", err)
	}
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	scan := make([]any, len(cols))
	record := make([]string, len(cols))
	for rows.Next() {
		ptrs := make([]any, len(cols))
		for i := range scan {
			ptrs[i] = &scan[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan export row: %w", err)
		}
		for i, v := range scan {
			if b, ok := v.([]byte); ok {
				record[i] = string(b)
				continue
			}
			record[i] = RenderValue(v)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate export result: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return f.Close()
}

// LoadNDJSONRows streams the NDJSON file at path into db, one insert per
// non-blank line, inside a single transaction. insertSQL must be a one-
// parameter INSERT in the backend's placeholder style.
func LoadNDJSONRows(ctx context.Context, db *sql.DB, insertSQL, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin load tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare raw insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	br := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := br.ReadString('\n')
		if s := strings.TrimSpace(line); s != "" {
			if _, execErr := stmt.ExecContext(ctx, s); execErr != nil {
				return n, fmt.Errorf("insert raw line %d: %w", n+1, execErr)
			}
			n++
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return n, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit raw load: %w", err)
	}
	return n, nil
}
