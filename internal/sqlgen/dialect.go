package sqlgen

import (
	"fmt"
	"strings"

	"jsonquery/internal/flatten"
)

func init() {
	register(duckdbDialect{})
	register(sqliteDialect{})
	register(postgresDialect{})
	register(mssqlDialect{})
}

// jsonPath renders a FieldPath as a $-rooted JSONPath literal, the form
// DuckDB, SQLite and SQL Server all accept. Identifier-like segments render
// as .key; anything else as ."key" with backslash and double-quote escaped.
// Bracket notation is avoided (DuckDB does not accept it).
func jsonPath(p flatten.FieldPath) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, seg := range p {
		if identLike(seg) {
			b.WriteByte('.')
			b.WriteString(seg)
			continue
		}
		esc := strings.ReplaceAll(seg, `\`, `\\`)
		esc = strings.ReplaceAll(esc, `"`, `\"`)
		b.WriteString(`."`)
		b.WriteString(esc)
		b.WriteByte('"')
	}
	return b.String()
}

// identLike matches the segments that are safe unquoted in a JSONPath:
// ASCII letters/underscore followed by letters, digits or underscores.
func identLike(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// sqlString quotes s as a SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ---------------------------------------------------------------------------
// duckdb
// ---------------------------------------------------------------------------

// duckdbDialect materializes to Parquet; its view reads the dataset back
// with read_parquet. Scalars use json_extract_string, which returns VARCHAR
// and avoids type drift across heterogeneous records.
type duckdbDialect struct{}

func (duckdbDialect) Name() string { return "duckdb" }

func (duckdbDialect) ScalarExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("json_extract_string(%s, %s)", flatten.RawColumn, sqlString(jsonPath(p)))
}

func (duckdbDialect) PassthroughExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("json_extract(%s, %s)", flatten.RawColumn, sqlString(jsonPath(p)))
}

func (duckdbDialect) ViewSQL(dataset string) string {
	target := dataset
	if !strings.HasSuffix(dataset, ".parquet") {
		// Dataset directory: read every part file.
		target = strings.TrimRight(dataset, "/") + "/*.parquet"
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s);", ViewName, sqlString(target))
}

// ---------------------------------------------------------------------------
// sqlite
// ---------------------------------------------------------------------------

// sqliteDialect materializes into a flat table inside the database file;
// the view simply fronts that table. json_extract already returns JSON text
// for object/array subtrees; scalars get an explicit CAST to TEXT.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) ScalarExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("CAST(json_extract(%s, %s) AS TEXT)", flatten.RawColumn, sqlString(jsonPath(p)))
}

func (sqliteDialect) PassthroughExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("json_extract(%s, %s)", flatten.RawColumn, sqlString(jsonPath(p)))
}

func (sqliteDialect) ViewSQL(string) string {
	return fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS SELECT * FROM flat;", ViewName)
}

// ---------------------------------------------------------------------------
// postgres
// ---------------------------------------------------------------------------

// postgresDialect extracts through jsonb path operators: #>> yields text,
// #> yields jsonb (cast back to text for the passthrough contract).
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) ScalarExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("(%s::jsonb #>> %s)", flatten.RawColumn, sqlString(pgPathArray(p)))
}

func (postgresDialect) PassthroughExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("(%s::jsonb #> %s)::text", flatten.RawColumn, sqlString(pgPathArray(p)))
}

func (postgresDialect) ViewSQL(string) string {
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM flat;", ViewName)
}

// pgPathArray renders p as a text[] literal for the #> operators. Every
// element is quoted so keys containing commas, braces or spaces survive.
func pgPathArray(p flatten.FieldPath) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, seg := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		esc := strings.ReplaceAll(seg, `\`, `\\`)
		esc = strings.ReplaceAll(esc, `"`, `\"`)
		b.WriteByte('"')
		b.WriteString(esc)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// ---------------------------------------------------------------------------
// mssql
// ---------------------------------------------------------------------------

// mssqlDialect uses T-SQL JSON_VALUE for scalars and JSON_QUERY for
// subtrees, both of which take the same $-rooted path form as jsonPath.
type mssqlDialect struct{}

func (mssqlDialect) Name() string { return "mssql" }

func (mssqlDialect) ScalarExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("JSON_VALUE(%s, %s)", flatten.RawColumn, sqlString(jsonPath(p)))
}

func (mssqlDialect) PassthroughExpr(p flatten.FieldPath) string {
	return fmt.Sprintf("JSON_QUERY(%s, %s)", flatten.RawColumn, sqlString(jsonPath(p)))
}

func (mssqlDialect) ViewSQL(string) string {
	return fmt.Sprintf("CREATE OR ALTER VIEW %s AS SELECT * FROM flat;", ViewName)
}
