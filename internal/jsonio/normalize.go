package jsonio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ExpandInputs resolves a mix of files and directories into a de-duplicated,
// ordered file list. Directories are expanded with glob; a missing input is
// reported through warn and skipped rather than failing the run.
func ExpandInputs(inputs []string, glob string, warn func(msg string)) ([]string, error) {
	var out []string
	for _, in := range inputs {
		st, err := os.Stat(in)
		switch {
		case err != nil:
			if warn != nil {
				warn(fmt.Sprintf("not found: %s", in))
			}
		case st.IsDir():
			matches, err := filepath.Glob(filepath.Join(in, glob))
			if err != nil {
				return nil, fmt.Errorf("glob %q in %s: %w", glob, in, err)
			}
			sort.Strings(matches)
			out = append(out, matches...)
		default:
			out = append(out, in)
		}
	}

	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, p := range out {
		if !seen[p] {
			uniq = append(uniq, p)
			seen[p] = true
		}
	}
	return uniq, nil
}

// NormalizeStats summarizes a Normalize run.
type NormalizeStats struct {
	// Records written to the NDJSON output.
	Written int
	// Records skipped because their source line/element failed to parse.
	Skipped int
}

// Normalize streams every record from files and writes each as one compact
// NDJSON line to w, preserving object member order and number literals.
//
// Per-record parse failures inside line-oriented inputs are counted, not
// fatal. A file that cannot be opened or whose structure is unreadable
// aborts the run.
func Normalize(ctx context.Context, files []string, w io.Writer) (NormalizeStats, error) {
	var stats NormalizeStats

	bw := bufio.NewWriterSize(w, 1<<20)
	buf := make([]byte, 0, 4096)

	emit := func(v Value) error {
		buf = v.AppendJSON(buf[:0])
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write ndjson: %w", err)
		}
		stats.Written++
		return nil
	}
	onErr := func(line int, err error) {
		stats.Skipped++
	}

	for _, f := range files {
		if err := StreamFile(ctx, f, emit, onErr); err != nil {
			return stats, err
		}
	}

	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("flush ndjson: %w", err)
	}
	return stats, nil
}
