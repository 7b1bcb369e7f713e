package flatten

import (
	"context"
	"fmt"
	"io"

	"jsonquery/internal/jsonio"
)

// Stats summarizes one inference pass.
type Stats struct {
	// Scanned is the number of valid records that contributed to the schema.
	Scanned int
	// Skipped is the number of malformed records that were counted and
	// dropped.
	Skipped int
}

// Infer samples up to max records from the NDJSON stream r and returns the
// merged schema.
//
// Behavior:
//   - Consumes at most max valid records, in stream order, and stops; the
//     remainder of the stream is never read, so memory and time are bounded
//     by the sample, not the dataset.
//   - Malformed lines are skipped, counted in Stats, and reported through
//     onSkip when non-nil. They never abort the pass.
//
// Errors:
//   - max <= 0 is rejected before any read.
//   - A sample with zero valid records is fatal: a schema cannot be
//     inferred from nothing.
//   - Column name collisions surface from Merger.Finalize.
func Infer(ctx context.Context, r io.Reader, max int, onSkip func(line int, err error)) (Schema, Stats, error) {
	if max <= 0 {
		return Schema{}, Stats{}, fmt.Errorf("sample size must be a positive integer (got %d)", max)
	}

	m := NewMerger()
	var stats Stats

	errStop := fmt.Errorf("sample full")
	err := jsonio.StreamNDJSON(ctx, r,
		func(v jsonio.Value) error {
			m.ObserveRecord(v)
			stats.Scanned++
			if stats.Scanned >= max {
				return errStop
			}
			return nil
		},
		func(line int, err error) {
			stats.Skipped++
			if onSkip != nil {
				onSkip(line, err)
			}
		},
	)
	if err != nil && err != errStop {
		return Schema{}, stats, err
	}

	if stats.Scanned == 0 {
		return Schema{}, stats, fmt.Errorf("no valid records in sample (skipped %d malformed); cannot infer a schema", stats.Skipped)
	}

	schema, err := m.Finalize()
	if err != nil {
		return Schema{}, stats, err
	}
	return schema, stats, nil
}
