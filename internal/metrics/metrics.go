// Package metrics is a small facade between the sync engine and a metrics
// backend. The engine only ever talks to this package; the process picks a
// backend once at startup with SetBackend. Until then every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions. Backends decide which ones they keep.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names. Backends match on these.
const (
	SyncRunsTotal      = "schemasync_sync_runs_total"
	RowsUpsertedTotal  = "schemasync_rows_upserted_total"
	ColumnsAddedTotal  = "schemasync_columns_added_total"
	ResolutionsTotal   = "schemasync_resolutions_total"
	StageSeconds       = "schemasync_stage_seconds"
	FieldWarningsTotal = "schemasync_field_warnings_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordRun counts one finished run by status (SUCCESS, PARTIAL, ERROR).
func RecordRun(status string) {
	IncCounter(SyncRunsTotal, 1, Labels{"status": status})
}

// RecordUpserted counts rows written for a profile.
func RecordUpserted(profile string, n int) {
	if n > 0 {
		IncCounter(RowsUpsertedTotal, float64(n), Labels{"profile": profile})
	}
}

// RecordColumnsAdded counts columns added by schema evolution.
func RecordColumnsAdded(profile string, n int) {
	if n > 0 {
		IncCounter(ColumnsAddedTotal, float64(n), Labels{"profile": profile})
	}
}

// RecordFieldWarnings counts fields stored as NULL after a failed coercion.
func RecordFieldWarnings(profile string, n int) {
	if n > 0 {
		IncCounter(FieldWarningsTotal, float64(n), Labels{"profile": profile})
	}
}

// RecordResolution counts one resolution attempt. outcome is "resolved",
// "unresolved" or "error".
func RecordResolution(mappingType, outcome string) {
	IncCounter(ResolutionsTotal, 1, Labels{"mapping_type": mappingType, "outcome": outcome})
}

// ObserveStage records how long a sync stage took.
func ObserveStage(stage, status string, d time.Duration) {
	ObserveHistogram(StageSeconds, d.Seconds(), Labels{"stage": stage, "status": status})
}
