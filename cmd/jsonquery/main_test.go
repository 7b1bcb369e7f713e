package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jsonquery/internal/engine"
	"jsonquery/internal/metrics"
)

// fakeEngine records calls and serves canned query results.
type fakeEngine struct {
	calls  []string
	result *engine.Result
	err    error
}

func (f *fakeEngine) LoadRaw(ctx context.Context, path string) error {
	f.calls = append(f.calls, "loadraw:"+filepath.Base(path))
	return f.err
}

func (f *fakeEngine) Materialize(ctx context.Context, selectSQL, dataset, compression string) error {
	f.calls = append(f.calls, fmt.Sprintf("materialize:%s:%s", filepath.Base(dataset), compression))
	return f.err
}

func (f *fakeEngine) EnsureView(ctx context.Context, dataset string) error {
	f.calls = append(f.calls, "ensureview")
	return f.err
}

func (f *fakeEngine) Query(ctx context.Context, sql string, limit int) (*engine.Result, error) {
	f.calls = append(f.calls, fmt.Sprintf("query:%d", limit))
	return f.result, f.err
}

func (f *fakeEngine) ExportCSV(ctx context.Context, sql, outPath string) error {
	f.calls = append(f.calls, "exportcsv:"+filepath.Base(outPath))
	return f.err
}

func (f *fakeEngine) Close() error { return nil }

// runCLI invokes run with a fake engine and captured output streams.
func runCLI(t *testing.T, fe *fakeEngine, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errb bytes.Buffer
	code = run(context.Background(), args, deps{
		Stdout: &out,
		Stderr: &errb,
		OpenEngine: func(ctx context.Context, backend string, cfg engine.Config) (engine.Engine, error) {
			if fe == nil {
				t.Fatalf("unexpected engine open for backend %s", backend)
			}
			return fe, nil
		},
		Now:    time.Now,
		Getenv: func(string) string { return "" },
	})
	return code, out.String(), errb.String()
}

// writeWorkInput writes a small JSON input file and returns (inputPath, workDir).
func writeWorkInput(t *testing.T, content string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.json")
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return in, filepath.Join(dir, "staging")
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"unknown command", []string{"frobnicate"}},
		{"normalize without inputs", []string{"normalize"}},
		{"build without inputs", []string{"build"}},
		{"gen-schema zero sample", []string{"gen-schema", "-sample", "0"}},
		{"gen-schema negative sample", []string{"gen-schema", "-sample", "-5"}},
		{"query without sql", []string{"query"}},
		{"query bad format", []string{"query", "-format", "xml", "SELECT 1"}},
		{"query server backend without dsn", []string{"query", "-backend", "postgres", "SELECT 1"}},
		{"export-csv without out", []string{"export-csv", "SELECT 1"}},
		{"bad flag", []string{"normalize", "-definitely-not-a-flag"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, _, stderr := runCLI(t, nil, tc.args...)
			if code != 2 {
				t.Fatalf("exit code = %d, want 2 (stderr: %s)", code, stderr)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	t.Parallel()

	code, stdout, _ := runCLI(t, nil, "help")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout, "gen-schema") {
		t.Errorf("help output missing command list: %s", stdout)
	}
}

func TestNormalizeThenGenSchema(t *testing.T) {
	t.Parallel()

	in, work := writeWorkInput(t, `[{"a":{"b":1},"c":[1,2]}, {"a":{"b":2},"d":"x"}]`)

	code, stdout, stderr := runCLI(t, nil, "normalize", "-in", in, "-work", work)
	if code != 0 {
		t.Fatalf("normalize exit = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "OK normalize: 2 records") {
		t.Errorf("stdout = %q", stdout)
	}
	ndjson, err := os.ReadFile(filepath.Join(work, "all.ndjson"))
	if err != nil {
		t.Fatalf("read ndjson: %v", err)
	}
	if got := strings.Count(string(ndjson), "\n"); got != 2 {
		t.Errorf("ndjson lines = %d, want 2", got)
	}

	code, stdout, stderr = runCLI(t, nil, "gen-schema", "-work", work)
	if code != 0 {
		t.Fatalf("gen-schema exit = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "OK schema:") {
		t.Errorf("stdout = %q", stdout)
	}

	artifact, err := os.ReadFile(filepath.Join(work, "flat_select.sql"))
	if err != nil {
		t.Fatalf("read schema artifact: %v", err)
	}
	for _, want := range []string{
		"SELECT",
		"raw_json",
		" AS a,",
		" AS a__b,",
		" AS c,",
		" AS d",
		"CREATE OR REPLACE VIEW v",
	} {
		if !strings.Contains(string(artifact), want) {
			t.Errorf("artifact missing %q:\n%s", want, artifact)
		}
	}
}

func TestGenSchema_IsIdempotent(t *testing.T) {
	t.Parallel()

	in, work := writeWorkInput(t, `[{"z":1,"a":2}]`)
	if code, _, stderr := runCLI(t, nil, "normalize", "-in", in, "-work", work); code != 0 {
		t.Fatalf("normalize failed: %s", stderr)
	}

	artifactPath := filepath.Join(work, "flat_select.sql")
	var prev []byte
	for i := 0; i < 3; i++ {
		if code, _, stderr := runCLI(t, nil, "gen-schema", "-work", work); code != 0 {
			t.Fatalf("gen-schema run %d failed: %s", i+1, stderr)
		}
		got, err := os.ReadFile(artifactPath)
		if err != nil {
			t.Fatalf("read artifact: %v", err)
		}
		if prev != nil && !bytes.Equal(got, prev) {
			t.Fatalf("run %d artifact differs from previous", i+1)
		}
		prev = got
	}
}

func TestGenSchema_MissingNDJSON(t *testing.T) {
	t.Parallel()

	code, _, stderr := runCLI(t, nil, "gen-schema", "-work", filepath.Join(t.TempDir(), "empty"))
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "normalize") {
		t.Errorf("stderr = %q, want pointer at normalize/build", stderr)
	}
}

func TestNormalize_AllInputsMissing(t *testing.T) {
	t.Parallel()

	code, _, stderr := runCLI(t, nil, "normalize", "-in", filepath.Join(t.TempDir(), "nope.json"), "-work", t.TempDir())
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "no input files") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestToParquet_DrivesEngine(t *testing.T) {
	t.Parallel()

	in, work := writeWorkInput(t, `[{"a":1}]`)
	if code, _, stderr := runCLI(t, nil, "normalize", "-in", in, "-work", work); code != 0 {
		t.Fatalf("normalize failed: %s", stderr)
	}

	fe := &fakeEngine{}
	code, stdout, stderr := runCLI(t, fe, "to-parquet", "-work", work)
	if code != 0 {
		t.Fatalf("to-parquet exit = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "OK dataset:") {
		t.Errorf("stdout = %q", stdout)
	}

	want := []string{"loadraw:all.ndjson", "materialize:flat_parquet:ZSTD"}
	if strings.Join(fe.calls, "|") != strings.Join(want, "|") {
		t.Errorf("engine calls = %v, want %v", fe.calls, want)
	}
	// The schema artifact was generated on demand.
	if _, err := os.Stat(filepath.Join(work, "flat_select.sql")); err != nil {
		t.Errorf("schema artifact not generated: %v", err)
	}
}

func TestBuild_RunsAllStages(t *testing.T) {
	t.Parallel()

	in, work := writeWorkInput(t, `[{"a":1},{"b":2}]`)
	fe := &fakeEngine{}
	code, stdout, stderr := runCLI(t, fe, "build", "-in", in, "-work", work, "-compression", "SNAPPY")
	if code != 0 {
		t.Fatalf("build exit = %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"OK normalize: 2 records", "OK schema:", "OK dataset:"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q: %s", want, stdout)
		}
	}
	want := []string{"loadraw:all.ndjson", "materialize:flat_parquet:SNAPPY"}
	if strings.Join(fe.calls, "|") != strings.Join(want, "|") {
		t.Errorf("engine calls = %v, want %v", fe.calls, want)
	}
}

func TestQuery_TableAndJSONLFormats(t *testing.T) {
	t.Parallel()

	res := &engine.Result{
		Columns: []string{"name", "n"},
		Rows: [][]any{
			{"alpha", "1"},
			{"beta", nil},
		},
	}

	fe := &fakeEngine{result: res}
	code, stdout, stderr := runCLI(t, fe, "query", "-work", t.TempDir(), "SELECT name, n FROM v")
	if code != 0 {
		t.Fatalf("query exit = %d, stderr: %s", code, stderr)
	}
	want := "name\tn\nalpha\t1\nbeta\t\n"
	if stdout != want {
		t.Errorf("table output = %q, want %q", stdout, want)
	}
	if strings.Join(fe.calls, "|") != "ensureview|query:0" {
		t.Errorf("engine calls = %v", fe.calls)
	}

	fe = &fakeEngine{result: res}
	code, stdout, _ = runCLI(t, fe, "query", "-work", t.TempDir(), "-format", "jsonl", "-limit", "5", "SELECT name, n FROM v")
	if code != 0 {
		t.Fatalf("jsonl query exit = %d", code)
	}
	// Keys follow result-column order, not alphabetical order.
	want = `{"name":"alpha","n":"1"}` + "\n" + `{"name":"beta","n":null}` + "\n"
	if stdout != want {
		t.Errorf("jsonl output = %q, want %q", stdout, want)
	}
	if strings.Join(fe.calls, "|") != "ensureview|query:5" {
		t.Errorf("engine calls = %v", fe.calls)
	}
}

func TestQuery_JSONLPreservesColumnOrder(t *testing.T) {
	t.Parallel()

	// Column order deliberately reverse-alphabetical so a sorted encoding
	// would be caught.
	fe := &fakeEngine{result: &engine.Result{
		Columns: []string{"zeta", "mid", "alpha"},
		Rows:    [][]any{{"1", "2", "3"}},
	}}
	code, stdout, stderr := runCLI(t, fe, "query", "-work", t.TempDir(), "-format", "jsonl", "SELECT zeta, mid, alpha FROM v")
	if code != 0 {
		t.Fatalf("query exit = %d, stderr: %s", code, stderr)
	}
	if want := `{"zeta":"1","mid":"2","alpha":"3"}` + "\n"; stdout != want {
		t.Errorf("jsonl output = %q, want %q", stdout, want)
	}
}

func TestExportCSV_DrivesEngine(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{}
	out := filepath.Join(t.TempDir(), "result.csv")
	code, stdout, stderr := runCLI(t, fe, "export-csv", "-work", t.TempDir(), "-out", out, "SELECT * FROM v")
	if code != 0 {
		t.Fatalf("export-csv exit = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "OK csv:") {
		t.Errorf("stdout = %q", stdout)
	}
	if strings.Join(fe.calls, "|") != "ensureview|exportcsv:result.csv" {
		t.Errorf("engine calls = %v", fe.calls)
	}
}

// fakeMetricsBackend counts recordings and remembers whether it was closed.
type fakeMetricsBackend struct {
	recordings int
	closed     bool
}

func (f *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       { f.recordings++ }
func (f *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) { f.recordings++ }
func (f *fakeMetricsBackend) Close() error {
	f.closed = true
	return nil
}

func TestRun_MetricsActivation(t *testing.T) {
	// Not parallel: the metrics backend is process-global state.

	in, work := writeWorkInput(t, `[{"a":1}]`)

	fm := &fakeMetricsBackend{}
	opened := 0
	var out, errb bytes.Buffer
	code := run(context.Background(), []string{"normalize", "-in", in, "-work", work}, deps{
		Stdout: &out,
		Stderr: &errb,
		NewMetricsBackend: func(ctx context.Context, job string) (backendCloser, error) {
			opened++
			if job != "jsonquery" {
				t.Errorf("job = %q, want jsonquery", job)
			}
			return fm, nil
		},
		Getenv: func(key string) string {
			if key == "DD_API_KEY" {
				return "test-key"
			}
			return ""
		},
		Now: time.Now,
	})
	if code != 0 {
		t.Fatalf("exit = %d, stderr: %s", code, errb.String())
	}
	if opened != 1 {
		t.Fatalf("metrics backend opened %d times, want 1", opened)
	}
	if fm.recordings == 0 {
		t.Error("no metrics recorded through the installed backend")
	}
	if !fm.closed {
		t.Error("metrics backend not closed after the run")
	}
}

func TestRun_MetricsStayOffWithoutCredentials(t *testing.T) {
	// Not parallel: the metrics backend is process-global state.

	in, work := writeWorkInput(t, `[{"a":1}]`)

	var out, errb bytes.Buffer
	code := run(context.Background(), []string{"normalize", "-in", in, "-work", work}, deps{
		Stdout: &out,
		Stderr: &errb,
		NewMetricsBackend: func(ctx context.Context, job string) (backendCloser, error) {
			t.Fatal("metrics backend opened without DD_API_KEY")
			return nil, nil
		},
		Getenv: func(string) string { return "" },
		Now:    time.Now,
	})
	if code != 0 {
		t.Fatalf("exit = %d, stderr: %s", code, errb.String())
	}
}

func TestQuery_EngineErrorIsRuntimeFailure(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{err: fmt.Errorf("view v does not exist")}
	code, _, stderr := runCLI(t, fe, "query", "-work", t.TempDir(), "SELECT 1")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "view v does not exist") {
		t.Errorf("stderr = %q", stderr)
	}
}
