// Command jsonquery normalizes heterogeneous JSON logs, infers a flattened
// column schema from a bounded sample, materializes a columnar dataset
// through a pluggable engine, and answers ad-hoc SQL against the view v.
//
// Subcommands mirror the pipeline stages:
//
//	normalize    mixed JSON inputs -> work/all.ndjson
//	gen-schema   sample NDJSON -> work/flat_select.sql (extraction SELECT + view)
//	to-parquet   NDJSON + schema -> materialized dataset
//	build        normalize + gen-schema + to-parquet
//	query        run SQL against the view v
//	export-csv   run SQL and write the result as CSV
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"jsonquery/internal/engine"
	_ "jsonquery/internal/engine/duck"
	_ "jsonquery/internal/engine/mssql"
	_ "jsonquery/internal/engine/postgres"
	_ "jsonquery/internal/engine/sqlite"
	"jsonquery/internal/flatten"
	"jsonquery/internal/jsonio"
	"jsonquery/internal/metrics"
	"jsonquery/internal/metrics/datadog"
	"jsonquery/internal/sqlgen"
)

// backendCloser is the minimal interface used here to manage a metrics
// backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject a fake engine opener and capture stdout/stderr.
//   - Alternate runtimes: swap the metrics backend factory.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	OpenEngine        func(ctx context.Context, backend string, cfg engine.Config) (engine.Engine, error)
	NewMetricsBackend func(ctx context.Context, job string) (backendCloser, error)
	Now               func() time.Time
	Getenv            func(key string) string
}

// main is intentionally small: it wires real dependencies and exits with a
// code.
func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		OpenEngine: engine.Open,
		NewMetricsBackend: func(ctx context.Context, job string) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{JobName: job})
		},
		Now:    time.Now,
		Getenv: os.Getenv,
	})
	os.Exit(code)
}

// run dispatches the subcommand and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: runtime failure (sampling, engine, query).
//   - 2: configuration/usage error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}

	if len(args) == 0 {
		usage(d.Stderr)
		return 2
	}

	// Metrics are opt-in through the environment: without credentials the
	// no-op backend stays installed and recording costs nothing.
	if d.Getenv("DD_API_KEY") != "" && d.NewMetricsBackend != nil {
		if b, err := d.NewMetricsBackend(ctx, "jsonquery"); err != nil {
			fmt.Fprintf(d.Stderr, "WARN: metrics disabled: %v\n", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				_ = b.Close()
				metrics.SetBackend(nil)
			}()
		}
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "normalize":
		return cmdNormalize(ctx, rest, d)
	case "gen-schema":
		return cmdGenSchema(ctx, rest, d)
	case "to-parquet":
		return cmdToParquet(ctx, rest, d)
	case "build":
		return cmdBuild(ctx, rest, d)
	case "query":
		return cmdQuery(ctx, rest, d)
	case "export-csv":
		return cmdExportCSV(ctx, rest, d)
	case "help", "-h", "--help":
		usage(d.Stdout)
		return 0
	default:
		fmt.Fprintf(d.Stderr, "unknown command %q\n\n", cmd)
		usage(d.Stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: jsonquery <command> [flags]

commands:
  normalize    normalize mixed JSON inputs into <work>/all.ndjson
  gen-schema   sample the NDJSON and generate the extraction SQL artifact
  to-parquet   materialize the flat dataset from NDJSON + schema
  build        normalize + gen-schema + to-parquet
  query        run SQL against the view v ("query [flags] <sql>")
  export-csv   run SQL and export the result to CSV

run "jsonquery <command> -h" for per-command flags
`)
}

// stringList collects repeated -in flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// workOpts are the artifact-bookkeeping flags shared by every subcommand.
type workOpts struct {
	Work        string
	NDJSONName  string
	SchemaName  string
	DatasetName string
	DBName      string
	DSN         string
	Backend     string
	MemoryLimit string
	TempDir     string
}

func addWorkFlags(fs *flag.FlagSet, w *workOpts) {
	fs.StringVar(&w.Work, "work", "staging", "working directory for artifacts")
	fs.StringVar(&w.NDJSONName, "ndjson-name", "all.ndjson", "NDJSON filename within -work")
	fs.StringVar(&w.SchemaName, "schema-name", "flat_select.sql", "schema artifact filename within -work")
	fs.StringVar(&w.DatasetName, "dataset-name", "flat_parquet", "dataset path within -work (duckdb backend)")
	fs.StringVar(&w.DBName, "db-name", "", "database filename within -work (embedded backends; default work.<backend>)")
	fs.StringVar(&w.DSN, "dsn", "", "server DSN (postgres and mssql backends)")
	fs.StringVar(&w.Backend, "backend", "duckdb", "engine backend: "+strings.Join(engine.Names(), ", "))
	fs.StringVar(&w.MemoryLimit, "memory-limit", "4GB", "engine memory limit where supported (e.g. 2GB, 8GB)")
	fs.StringVar(&w.TempDir, "temp-dir", "", "engine temp dir for spill files where supported")
}

func (w *workOpts) ndjsonPath() string  { return filepath.Join(w.Work, w.NDJSONName) }
func (w *workOpts) schemaPath() string  { return filepath.Join(w.Work, w.SchemaName) }
func (w *workOpts) datasetPath() string { return filepath.Join(w.Work, w.DatasetName) }

// engineConfig resolves the engine location for the selected backend:
// embedded engines get a file inside the work dir, server engines need an
// explicit -dsn.
func (w *workOpts) engineConfig() (engine.Config, error) {
	cfg := engine.Config{MemoryLimit: w.MemoryLimit, TempDir: w.TempDir}
	switch w.Backend {
	case "duckdb", "sqlite":
		name := w.DBName
		if name == "" {
			name = "work." + w.Backend
		}
		cfg.DSN = filepath.Join(w.Work, name)
	default:
		if w.DSN == "" {
			return cfg, fmt.Errorf("backend %q requires -dsn", w.Backend)
		}
		cfg.DSN = w.DSN
	}
	return cfg, nil
}

// stage runs fn and records its outcome and duration.
func stage(d deps, name string, fn func() error) error {
	start := d.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStage(name, status, d.Now().Sub(start))
	return err
}

// ---------------------------------------------------------------------------
// normalize
// ---------------------------------------------------------------------------

func cmdNormalize(ctx context.Context, args []string, d deps) int {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)
	var ins stringList
	fs.Var(&ins, "in", "input file or directory (repeatable)")
	glob := fs.String("glob", "*.json", "glob pattern when -in is a directory")
	var w workOpts
	addWorkFlags(fs, &w)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(ins) == 0 {
		fmt.Fprintln(d.Stderr, "normalize: at least one -in is required")
		return 2
	}

	if err := stage(d, "normalize", func() error {
		return runNormalize(ctx, ins, *glob, &w, d)
	}); err != nil {
		fmt.Fprintf(d.Stderr, "normalize: %v\n", err)
		return 1
	}
	return 0
}

func runNormalize(ctx context.Context, ins []string, glob string, w *workOpts, d deps) error {
	if err := os.MkdirAll(w.Work, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	files, err := jsonio.ExpandInputs(ins, glob, func(msg string) {
		fmt.Fprintf(d.Stderr, "WARN: %s\n", msg)
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no input files found")
	}

	out, err := os.Create(w.ndjsonPath())
	if err != nil {
		return fmt.Errorf("create %s: %w", w.ndjsonPath(), err)
	}
	defer out.Close()

	stats, err := jsonio.Normalize(ctx, files, out)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.ndjsonPath(), err)
	}

	metrics.RecordRecords("normalized", stats.Written)
	metrics.RecordRecords("skipped", stats.Skipped)
	fmt.Fprintf(d.Stdout, "OK normalize: %d records -> %s (skipped=%d)\n", stats.Written, w.ndjsonPath(), stats.Skipped)
	return nil
}

// ---------------------------------------------------------------------------
// gen-schema
// ---------------------------------------------------------------------------

func cmdGenSchema(ctx context.Context, args []string, d deps) int {
	fs := flag.NewFlagSet("gen-schema", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)
	var w workOpts
	addWorkFlags(fs, &w)
	sample := fs.Int("sample", 20000, "how many NDJSON records to scan for the schema")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *sample <= 0 {
		fmt.Fprintf(d.Stderr, "gen-schema: -sample must be a positive integer (got %d)\n", *sample)
		return 2
	}

	if err := stage(d, "gen-schema", func() error {
		return runGenSchema(ctx, &w, *sample, d)
	}); err != nil {
		fmt.Fprintf(d.Stderr, "gen-schema: %v\n", err)
		return 1
	}
	return 0
}

func runGenSchema(ctx context.Context, w *workOpts, sample int, d deps) error {
	dialect, err := sqlgen.DialectFor(w.Backend)
	if err != nil {
		return err
	}

	f, err := os.Open(w.ndjsonPath())
	if err != nil {
		return fmt.Errorf("NDJSON not found: %s (run normalize or build first)", w.ndjsonPath())
	}
	defer f.Close()

	schema, stats, err := flatten.Infer(ctx, f, sample, nil)
	if err != nil {
		return err
	}
	if stats.Skipped > 0 {
		fmt.Fprintf(d.Stderr, "WARN: skipped %d malformed records while sampling\n", stats.Skipped)
	}
	metrics.RecordRecords("sampled", stats.Scanned)
	metrics.RecordRecords("skipped", stats.Skipped)
	metrics.RecordColumns(len(schema.Columns))

	artifact := sqlgen.Artifact(dialect, schema, filepath.ToSlash(w.datasetPath()))
	if err := os.WriteFile(w.schemaPath(), []byte(artifact), 0o644); err != nil {
		return fmt.Errorf("write schema artifact: %w", err)
	}

	fmt.Fprintf(d.Stdout, "OK schema: %s (%d columns from %d records)\n", w.schemaPath(), len(schema.Columns)+1, stats.Scanned)
	return nil
}

// ---------------------------------------------------------------------------
// to-parquet
// ---------------------------------------------------------------------------

func cmdToParquet(ctx context.Context, args []string, d deps) int {
	fs := flag.NewFlagSet("to-parquet", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)
	var w workOpts
	addWorkFlags(fs, &w)
	out := fs.String("out", "", "dataset output path (default <work>/<dataset-name>)")
	sample := fs.Int("sample", 20000, "scan count if (re)generating the schema")
	regen := fs.Bool("regen-schema", false, "regenerate the schema even if the artifact exists")
	compression := fs.String("compression", "ZSTD", "Parquet compression (e.g. ZSTD, SNAPPY, GZIP)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *sample <= 0 {
		fmt.Fprintf(d.Stderr, "to-parquet: -sample must be a positive integer (got %d)\n", *sample)
		return 2
	}
	if _, err := w.engineConfig(); err != nil {
		fmt.Fprintf(d.Stderr, "to-parquet: %v\n", err)
		return 2
	}

	if err := stage(d, "to-parquet", func() error {
		return runToParquet(ctx, &w, *out, *sample, *regen, *compression, d)
	}); err != nil {
		fmt.Fprintf(d.Stderr, "to-parquet: %v\n", err)
		return 1
	}
	return 0
}

func runToParquet(ctx context.Context, w *workOpts, out string, sample int, regen bool, compression string, d deps) error {
	if _, err := os.Stat(w.ndjsonPath()); err != nil {
		return fmt.Errorf("NDJSON not found: %s (run normalize or build first)", w.ndjsonPath())
	}

	if regen {
		if err := runGenSchema(ctx, w, sample, d); err != nil {
			return err
		}
	} else if _, err := os.Stat(w.schemaPath()); err != nil {
		if err := runGenSchema(ctx, w, sample, d); err != nil {
			return err
		}
	}

	artifact, err := os.ReadFile(w.schemaPath())
	if err != nil {
		return fmt.Errorf("read schema artifact: %w", err)
	}
	sel, err := sqlgen.SelectFromArtifact(string(artifact))
	if err != nil {
		return err
	}

	cfg, err := w.engineConfig()
	if err != nil {
		return err
	}
	eng, err := d.OpenEngine(ctx, w.Backend, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.LoadRaw(ctx, w.ndjsonPath()); err != nil {
		return err
	}

	dataset := out
	if dataset == "" {
		dataset = w.datasetPath()
	}
	if err := eng.Materialize(ctx, sel, dataset, compression); err != nil {
		return err
	}

	fmt.Fprintf(d.Stdout, "OK dataset: %s\n", dataset)
	return nil
}

// ---------------------------------------------------------------------------
// build
// ---------------------------------------------------------------------------

func cmdBuild(ctx context.Context, args []string, d deps) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)
	var ins stringList
	fs.Var(&ins, "in", "input file or directory (repeatable)")
	glob := fs.String("glob", "*.json", "glob pattern when -in is a directory")
	var w workOpts
	addWorkFlags(fs, &w)
	out := fs.String("out", "", "dataset output path (default <work>/<dataset-name>)")
	sample := fs.Int("sample", 20000, "how many NDJSON records to scan for the schema")
	compression := fs.String("compression", "ZSTD", "Parquet compression (e.g. ZSTD, SNAPPY, GZIP)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(ins) == 0 {
		fmt.Fprintln(d.Stderr, "build: at least one -in is required")
		return 2
	}
	if *sample <= 0 {
		fmt.Fprintf(d.Stderr, "build: -sample must be a positive integer (got %d)\n", *sample)
		return 2
	}
	if _, err := w.engineConfig(); err != nil {
		fmt.Fprintf(d.Stderr, "build: %v\n", err)
		return 2
	}

	err := stage(d, "build", func() error {
		if err := runNormalize(ctx, ins, *glob, &w, d); err != nil {
			return err
		}
		if err := runGenSchema(ctx, &w, *sample, d); err != nil {
			return err
		}
		return runToParquet(ctx, &w, *out, *sample, false, *compression, d)
	})
	if err != nil {
		fmt.Fprintf(d.Stderr, "build: %v\n", err)
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// query
// ---------------------------------------------------------------------------

func cmdQuery(ctx context.Context, args []string, d deps) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)
	var w workOpts
	addWorkFlags(fs, &w)
	dataset := fs.String("dataset", "", "dataset path (default <work>/<dataset-name>)")
	format := fs.String("format", "table", "output format: table or jsonl")
	limit := fs.Int("limit", 0, "limit printed rows (0 = all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(d.Stderr, "query: exactly one SQL argument is required (it can reference the view v)")
		return 2
	}
	if *format != "table" && *format != "jsonl" {
		fmt.Fprintf(d.Stderr, "query: unknown -format %q (want table or jsonl)\n", *format)
		return 2
	}
	if _, err := w.engineConfig(); err != nil {
		fmt.Fprintf(d.Stderr, "query: %v\n", err)
		return 2
	}

	if err := stage(d, "query", func() error {
		return runQuery(ctx, &w, *dataset, fs.Arg(0), *format, *limit, d)
	}); err != nil {
		fmt.Fprintf(d.Stderr, "query: %v\n", err)
		return 1
	}
	return 0
}

func runQuery(ctx context.Context, w *workOpts, dataset, query, format string, limit int, d deps) error {
	cfg, err := w.engineConfig()
	if err != nil {
		return err
	}
	eng, err := d.OpenEngine(ctx, w.Backend, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	if dataset == "" {
		dataset = w.datasetPath()
	}
	if err := eng.EnsureView(ctx, dataset); err != nil {
		return err
	}

	res, err := eng.Query(ctx, query, limit)
	if err != nil {
		return err
	}
	metrics.RecordRecords("fetched", len(res.Rows))

	switch format {
	case "jsonl":
		// Members are assembled by hand so keys stay in result-column
		// order; a map round-trip would sort them.
		var buf bytes.Buffer
		for _, row := range res.Rows {
			buf.Reset()
			buf.WriteByte('{')
			for i, c := range res.Columns {
				if i > 0 {
					buf.WriteByte(',')
				}
				key, err := json.Marshal(c)
				if err != nil {
					return fmt.Errorf("encode column %q: %w", c, err)
				}
				buf.Write(key)
				buf.WriteByte(':')
				val, err := json.Marshal(row[i])
				if err != nil {
					return fmt.Errorf("encode row value: %w", err)
				}
				buf.Write(val)
			}
			buf.WriteByte('}')
			fmt.Fprintln(d.Stdout, buf.String())
		}
	default:
		fmt.Fprintln(d.Stdout, strings.Join(res.Columns, "\t"))
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = engine.RenderValue(v)
			}
			fmt.Fprintln(d.Stdout, strings.Join(cells, "\t"))
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// export-csv
// ---------------------------------------------------------------------------

func cmdExportCSV(ctx context.Context, args []string, d deps) int {
	fs := flag.NewFlagSet("export-csv", flag.ContinueOnError)
	fs.SetOutput(d.Stderr)
	var w workOpts
	addWorkFlags(fs, &w)
	dataset := fs.String("dataset", "", "dataset path (default <work>/<dataset-name>)")
	out := fs.String("out", "", "output CSV path (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *out == "" {
		fmt.Fprintln(d.Stderr, "export-csv: -out is required")
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(d.Stderr, "export-csv: exactly one SQL argument is required (it can reference the view v)")
		return 2
	}
	if _, err := w.engineConfig(); err != nil {
		fmt.Fprintf(d.Stderr, "export-csv: %v\n", err)
		return 2
	}

	if err := stage(d, "export-csv", func() error {
		return runExportCSV(ctx, &w, *dataset, fs.Arg(0), *out, d)
	}); err != nil {
		fmt.Fprintf(d.Stderr, "export-csv: %v\n", err)
		return 1
	}
	return 0
}

func runExportCSV(ctx context.Context, w *workOpts, dataset, query, out string, d deps) error {
	cfg, err := w.engineConfig()
	if err != nil {
		return err
	}
	eng, err := d.OpenEngine(ctx, w.Backend, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	if dataset == "" {
		dataset = w.datasetPath()
	}
	if err := eng.EnsureView(ctx, dataset); err != nil {
		return err
	}
	if err := eng.ExportCSV(ctx, query, out); err != nil {
		return err
	}

	fmt.Fprintf(d.Stdout, "OK csv: %s\n", out)
	return nil
}
