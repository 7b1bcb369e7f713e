package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeBackend records every call for assertion.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	flushed int
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("counter %s %v %s", name, delta, labels["stage"]+labels["kind"]+labels["status"]))
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("histogram %s %v", name, value))
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return nil
}

// install swaps in b for the duration of the test.
func install(t *testing.T, b Backend) {
	t.Helper()
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })
}

func TestRecordStage(t *testing.T) {
	fb := &fakeBackend{}
	install(t, fb)

	RecordStage("normalize", "ok", 1500*time.Millisecond)

	want := []string{
		"counter jsonquery_stage_total 1 normalizeok",
		"histogram jsonquery_stage_duration_seconds 1.5",
	}
	if len(fb.calls) != 2 || fb.calls[0] != want[0] || fb.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", fb.calls, want)
	}
}

func TestRecordRecords(t *testing.T) {
	fb := &fakeBackend{}
	install(t, fb)

	RecordRecords("normalized", 42)
	RecordRecords("skipped", 0)  // zero is dropped
	RecordRecords("sampled", -1) // negative is dropped

	if len(fb.calls) != 1 || fb.calls[0] != "counter jsonquery_records_total 42 normalized" {
		t.Errorf("calls = %v", fb.calls)
	}
}

func TestFlushReachesFlusherBackends(t *testing.T) {
	fb := &fakeBackend{}
	install(t, fb)

	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fb.flushed != 1 {
		t.Errorf("flushed = %d, want 1", fb.flushed)
	}
}

func TestNopDefaultIsSafe(t *testing.T) {
	SetBackend(nil)

	// Recording against the default backend must never panic and Flush
	// must be a no-op.
	RecordStage("query", "error", time.Second)
	RecordRecords("fetched", 10)
	RecordColumns(5)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop backend: %v", err)
	}
}
