// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// Metrics are buffered in-memory and submitted on a ticker as well as once
// more on Close, so short-lived command runs still land a final datapoint
// while long builds produce a usable time series.
//
// Concurrency model:
//   - pipeline goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets the buffers under a mutex, then submits
//     out-of-lock
//   - the flush loop calls Flush periodically; Close stops the loop and
//     flushes one final time
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"jsonquery/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to
	// "jsonquery".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets these; tests use
	// them to avoid real HTTP and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK the backend
// needs, so tests can substitute a fake instead of doing real HTTP.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[string]float64   // series key -> summed delta
	samples  map[string][]float64 // series key -> observed values
	keyMeta  map[string]seriesKey // series key -> decoded name/tags
}

type seriesKey struct {
	name string
	tags []string
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// Credentials come from the environment (DD_API_KEY et al.) via the SDK's
// default context; construction itself does no network I/O, so network
// errors surface from Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "jsonquery"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[string]float64),
		samples:    make(map[string][]float64),
		keyMeta:    make(map[string]seriesKey),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
// Close must be called at most once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// key folds a metric name plus labels into one map key with deterministic
// label order. Must be called with b.mu held.
func (b *Backend) key(name string, labels metrics.Labels) string {
	if len(labels) == 0 {
		if _, ok := b.keyMeta[name]; !ok {
			b.keyMeta[name] = seriesKey{name: name}
		}
		return name
	}
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	k := name + "|" + strings.Join(tags, ",")
	if _, ok := b.keyMeta[k]; !ok {
		b.keyMeta[k] = seriesKey{name: name, tags: tags}
	}
	return k
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[b.key(name, labels)] += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.key(name, labels)
	b.samples[k] = append(b.samples[k], value)
}

// snapshot holds detached buffers so payload building and submission happen
// out-of-lock.
type snapshot struct {
	counters map[string]float64
	samples  map[string][]float64
	keyMeta  map[string]seriesKey
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counters: b.counters, samples: b.samples, keyMeta: b.keyMeta}
	b.counters = make(map[string]float64)
	b.samples = make(map[string][]float64)
	b.keyMeta = make(map[string]seriesKey)
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.samples) == 0
}

// Flush submits buffered metrics and resets the buffers. Buffers reset even
// when submission fails, so a dead intake never blocks the pipeline.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs the Datadog series for a snapshot at a fixed
// timestamp. Counters become COUNT series; each histogram becomes avg, max
// and count gauges, which cover the dashboards this tool needs without
// shipping full distributions.
//
// It is pure (no locks, no network, no clocks), which keeps the naming and
// tagging contract unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	point := func(value float64) []datadogV2.MetricPoint {
		return []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		}
	}
	tagsFor := func(k string) []string {
		meta := s.keyMeta[k]
		return append(append([]string{}, b.baseTags...), meta.tags...)
	}
	nameFor := func(k string) string {
		if meta, ok := s.keyMeta[k]; ok && meta.name != "" {
			return meta.name
		}
		return k
	}

	keys := make([]string, 0, len(s.counters)+len(s.samples))
	for k := range s.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var series []datadogV2.MetricSeries
	for _, k := range keys {
		series = append(series, datadogV2.MetricSeries{
			Metric: nameFor(k),
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: point(s.counters[k]),
			Tags:   tagsFor(k),
		})
	}

	keys = keys[:0]
	for k := range s.samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		vals := s.samples[k]
		var sum, max float64
		for _, v := range vals {
			sum += v
			if v > max {
				max = v
			}
		}
		base := nameFor(k)
		gauge := func(suffix string, value float64) datadogV2.MetricSeries {
			return datadogV2.MetricSeries{
				Metric: base + suffix,
				Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
				Points: point(value),
				Tags:   tagsFor(k),
			}
		}
		series = append(series,
			gauge(".avg", sum/float64(len(vals))),
			gauge(".max", max),
			gauge(".count", float64(len(vals))),
		)
	}
	return series
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
