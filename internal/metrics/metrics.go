// Package metrics decouples the pipeline from any specific metrics vendor.
//
// Commands record through package-level helpers against a process-wide
// Backend; the default backend drops everything, so library code can record
// unconditionally and only binaries that configure a real backend (see the
// datadog subpackage) pay for it.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric tags. Implementations must treat them as read-only.
type Labels map[string]string

// Backend receives recorded metrics. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer metrics.
type Flusher interface {
	Flush() error
}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

// Flush flushes the current backend when it buffers; no-op otherwise.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

// RecordStage records one completed pipeline stage (normalize, gen-schema,
// to-parquet, query, export-csv) with its status ("ok" or "error") and wall
// duration.
func RecordStage(stage, status string, d time.Duration) {
	b := current()
	labels := Labels{"stage": stage, "status": status}
	b.IncCounter("jsonquery_stage_total", 1, labels)
	b.ObserveHistogram("jsonquery_stage_duration_seconds", d.Seconds(), labels)
}

// RecordRecords counts processed records by kind ("normalized", "skipped",
// "sampled", "fetched").
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter("jsonquery_records_total", float64(n), Labels{"kind": kind})
}

// RecordColumns records the width of a freshly inferred schema.
func RecordColumns(n int) {
	current().ObserveHistogram("jsonquery_schema_columns", float64(n), nil)
}
