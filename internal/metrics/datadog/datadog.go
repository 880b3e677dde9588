// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Flushing:
// Syncs can run as a one-shot command or on a schedule inside a long-lived
// process. Submitting only at exit would turn a long run into a single spike,
// so the backend
//   - buffers observations in memory under a mutex
//   - flushes on a ticker (default: once per minute)
//   - flushes one final time on Close()
//
// Concurrency model:
//   - sync goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets the buffers under the mutex, then submits
//     outside of it
//
// Only the metric names declared in the metrics package are forwarded; any
// other name is dropped.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"schemasync/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "schemasync".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:data"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams. Production code leaves them nil.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// series describes how one internal metric maps onto Datadog.
type series struct {
	name string
	// labels are the label keys turned into tags, in tag order.
	labels []string
}

var counters = map[string]series{
	metrics.SyncRunsTotal:      {"schemasync.sync_runs.total", []string{"status"}},
	metrics.RowsUpsertedTotal:  {"schemasync.rows_upserted.total", []string{"profile"}},
	metrics.ColumnsAddedTotal:  {"schemasync.columns_added.total", []string{"profile"}},
	metrics.FieldWarningsTotal: {"schemasync.field_warnings.total", []string{"profile"}},
	metrics.ResolutionsTotal:   {"schemasync.resolutions.total", []string{"mapping_type", "outcome"}},
}

var histograms = map[string]series{
	metrics.StageSeconds: {"schemasync.stage.duration_seconds", []string{"stage", "status"}},
}

type counterPoint struct {
	metric string
	tags   []string
	value  float64
}

type histogramPoint struct {
	metric  string
	tags    []string
	samples []float64
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

	mu         sync.Mutex
	counts     map[string]*counterPoint
	histograms map[string]*histogramPoint
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

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials come from DD_API_KEY / DD_SITE through
// the client's default context.
//
// Network errors surface from Flush, not from here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = "schemasync"
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
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
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
		counts:     make(map[string]*counterPoint),
		histograms: make(map[string]*histogramPoint),
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

// Close stops the flush loop and performs one final Flush. It must be called
// once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	s, ok := counters[name]
	if !ok || delta <= 0 {
		return
	}
	key, tags := s.key(labels)

	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.counts[key]
	if p == nil {
		p = &counterPoint{metric: s.name, tags: tags}
		b.counts[key] = p
	}
	p.value += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	s, ok := histograms[name]
	if !ok || value < 0 {
		return
	}
	key, tags := s.key(labels)

	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.histograms[key]
	if p == nil {
		p = &histogramPoint{metric: s.name, tags: tags}
		b.histograms[key] = p
	}
	p.samples = append(p.samples, value)
}

// key returns the buffer key and tags for one observation. Missing labels are
// tagged "unknown".
func (s series) key(labels metrics.Labels) (string, []string) {
	tags := make([]string, 0, len(s.labels))
	for _, l := range s.labels {
		v := strings.TrimSpace(labels[l])
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, l+":"+strings.ToLower(v))
	}
	return s.name + "\x00" + strings.Join(tags, "\x00"), tags
}

type snapshot struct {
	counts     map[string]*counterPoint
	histograms map[string]*histogramPoint
}

func (s snapshot) isEmpty() bool {
	return len(s.counts) == 0 && len(s.histograms) == 0
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counts: b.counts, histograms: b.histograms}
	b.counts = make(map[string]*counterPoint)
	b.histograms = make(map[string]*histogramPoint)
	return s
}

// Flush submits buffered metrics and resets the buffers. Buffers are reset
// even when submission fails; Flush returns nil when there is nothing to
// send.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Output is sorted by metric name, then tags.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(s.counts)+6*len(s.histograms))

	for _, p := range s.counts {
		out = append(out, point(datadogV2.METRICINTAKETYPE_COUNT, p.metric, p.value, withTags(b.baseTags, p.tags...), nowUnix))
	}
	for _, p := range s.histograms {
		if len(p.samples) == 0 {
			continue
		}
		cp := append([]float64(nil), p.samples...)
		sort.Float64s(cp)

		tags := withTags(b.baseTags, p.tags...)
		out = append(out,
			point(datadogV2.METRICINTAKETYPE_GAUGE, p.metric+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, p.metric+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, p.metric+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, p.metric+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, p.metric+".max", cp[len(cp)-1], tags, nowUnix),
			point(datadogV2.METRICINTAKETYPE_GAUGE, p.metric+".samples", float64(len(cp)), tags, nowUnix),
		)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return strings.Join(out[i].Tags, ",") < strings.Join(out[j].Tags, ",")
	})
	return out
}

func point(typ datadogV2.MetricIntakeType, metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
