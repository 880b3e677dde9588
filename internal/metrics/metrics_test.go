package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hist     map[string][]float64
	labels   []Labels
	flushes  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, hist: map[string][]float64{}}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
	r.labels = append(r.labels, labels)
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist[name] = append(r.hist[name], value)
	r.labels = append(r.labels, labels)
}

func (r *recordingBackend) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

// Tests here swap the package-level backend, so they do not run in parallel.

func TestFacade_DefaultsToNop(t *testing.T) {
	SetBackend(nil)
	assert.NotPanics(t, func() {
		RecordRun("SUCCESS")
		ObserveStage("fetch", "ok", time.Second)
	})
	assert.NoError(t, Flush())
}

func TestFacade_ForwardsToBackend(t *testing.T) {
	b := newRecordingBackend()
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	RecordRun("PARTIAL")
	RecordUpserted("forms", 3)
	RecordUpserted("forms", 0)
	RecordColumnsAdded("tickets", 2)
	RecordResolution("store-reference", "resolved")
	ObserveStage("upsert", "ok", 1500*time.Millisecond)
	assert.NoError(t, Flush())

	assert.Equal(t, 1.0, b.counters[SyncRunsTotal])
	assert.Equal(t, 3.0, b.counters[RowsUpsertedTotal])
	assert.Equal(t, 2.0, b.counters[ColumnsAddedTotal])
	assert.Equal(t, 1.0, b.counters[ResolutionsTotal])
	assert.Equal(t, []float64{1.5}, b.hist[StageSeconds])
	assert.Equal(t, Labels{"status": "PARTIAL"}, b.labels[0])
	assert.Equal(t, 1, b.flushes)
}
