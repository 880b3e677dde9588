// Package engine drives one sync cycle per source: fetch rows, evolve the
// table, upsert, resolve references. Runner fans a request out over sources
// and records the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"schemasync/internal/metrics"
	"schemasync/internal/resolve"
	"schemasync/internal/schema"
	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// ErrRunActive is returned when a source already has a sync in progress.
var ErrRunActive = errors.New("sync already running for source")

// Feed fetches a source's rows. A non-nil since asks for rows submitted
// after it.
type Feed interface {
	Fetch(ctx context.Context, src storage.Source, since *time.Time) ([]records.SourceRow, error)
}

// SchemaManager creates and evolves source tables.
type SchemaManager interface {
	EnsureTable(ctx context.Context, p schema.Profile, src storage.Source, observed []schema.ObservedColumn) (schema.TableOutcome, error)
}

// RowWriter upserts rows into a source table.
type RowWriter interface {
	UpsertAll(ctx context.Context, h schema.TableHandle, rows []records.SourceRow) (schema.UpsertOutcome, error)
}

// Resolver resolves references after rows are written.
type Resolver interface {
	Invalidations(ctx context.Context, src storage.Source) ([]storage.Invalidation, error)
	ResolveAll(ctx context.Context, src storage.Source) (resolve.Counts, error)
}

// Watermarks persists the incremental watermark.
type Watermarks interface {
	MarkSynced(ctx context.Context, id int, at time.Time) error
}

// Options tunes an Engine.
type Options struct {
	// SampleRows bounds type-inference sampling; <= 0 uses schema.DefaultSampleRows.
	SampleRows int
	Logger     *zap.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// SourceResult is the outcome of one SyncSource call.
type SourceResult struct {
	SourceID int
	Alias    string
	Table    string
	Mode     Mode

	Fetched        int
	Created        bool
	ColumnsAdded   int
	ColumnFailures []schema.ColumnFailure
	Upsert         schema.UpsertOutcome
	Resolution     resolve.Counts

	// FailedIn is the stage that failed, or Idle on success.
	FailedIn State
	Err      error
	Duration time.Duration
}

// Clean reports whether the source synced without any per-item problem.
func (r SourceResult) Clean() bool {
	return r.Err == nil &&
		len(r.ColumnFailures) == 0 &&
		len(r.Upsert.Failed) == 0 &&
		len(r.Upsert.Warnings) == 0 &&
		len(r.Resolution.Errors) == 0
}

// Engine runs the per-source state machine.
type Engine struct {
	feed     Feed
	schema   SchemaManager
	rows     RowWriter
	resolver Resolver
	marks    Watermarks

	sampleRows int
	log        *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	states map[int]State
}

// New returns an Engine.
func New(feed Feed, sm SchemaManager, rows RowWriter, resolver Resolver, marks Watermarks, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		feed:       feed,
		schema:     sm,
		rows:       rows,
		resolver:   resolver,
		marks:      marks,
		sampleRows: opts.SampleRows,
		log:        log,
		now:        now,
		states:     make(map[int]State),
	}
}

// State returns the current state of a source.
func (e *Engine) State(sourceID int) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[sourceID]
}

func (e *Engine) acquire(sourceID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.states[sourceID].Active() {
		return false
	}
	e.states[sourceID] = Fetching
	return true
}

func (e *Engine) set(sourceID int, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == Idle {
		delete(e.states, sourceID)
		return
	}
	e.states[sourceID] = s
}

// SyncSource runs one full cycle for src.
//
// A concurrent call for the same source is rejected with ErrRunActive, not
// queued. A stage error moves the source to Failed and then back to Idle; it
// is returned and also recorded in the result. Per-item problems (columns,
// fields, rows, mappings) are only recorded in the result.
//
// On success the source's watermark advances to the time the fetch started.
func (e *Engine) SyncSource(ctx context.Context, src storage.Source, mode Mode) (SourceResult, error) {
	res := SourceResult{SourceID: src.ID, Alias: src.Alias, Table: src.TableName, Mode: mode}
	if !e.acquire(src.ID) {
		res.Err = ErrRunActive
		return res, ErrRunActive
	}
	defer e.set(src.ID, Idle)

	log := e.log.With(zap.Int("source_id", src.ID), zap.String("alias", src.Alias), zap.String("mode", mode.String()))
	started := e.now()

	fail := func(stage State, err error) (SourceResult, error) {
		e.set(src.ID, Failed)
		res.FailedIn = stage
		res.Err = fmt.Errorf("%s: %w", stage, err)
		res.Duration = e.now().Sub(started)
		metrics.ObserveStage(stage.String(), "error", res.Duration)
		log.Error("sync failed", zap.String("state", stage.String()), zap.Error(err))
		return res, res.Err
	}

	p, err := schema.LookupProfile(src.Profile)
	if err != nil {
		return fail(Fetching, err)
	}

	// Fetching
	var since *time.Time
	if mode == Incremental && src.LastSyncedAt != nil {
		since = src.LastSyncedAt
	}
	stageStart := e.now()
	rows, err := e.feed.Fetch(ctx, src, since)
	if err != nil {
		return fail(Fetching, err)
	}
	res.Fetched = len(rows)
	e.observe(Fetching, stageStart)
	log.Info("rows fetched", zap.Int("rows", len(rows)), zap.Bool("incremental", since != nil))

	if len(rows) > 0 {
		// Evolving
		e.set(src.ID, Evolving)
		stageStart = e.now()
		out, err := e.schema.EnsureTable(ctx, p, src, schema.Observe(rows, e.sampleRows))
		if err != nil {
			return fail(Evolving, err)
		}
		src.TableName = out.Table.Name
		res.Table = out.Table.Name
		res.Created = out.Created
		res.ColumnsAdded = len(out.Added)
		res.ColumnFailures = out.Failed
		metrics.RecordColumnsAdded(p.Name, len(out.Added))

		h := out.Table
		if h.Invalidate, err = e.resolver.Invalidations(ctx, src); err != nil {
			return fail(Evolving, err)
		}
		e.observe(Evolving, stageStart)

		// Upserting
		e.set(src.ID, Upserting)
		stageStart = e.now()
		res.Upsert, err = e.rows.UpsertAll(ctx, h, rows)
		metrics.RecordUpserted(p.Name, res.Upsert.Upserted)
		metrics.RecordFieldWarnings(p.Name, len(res.Upsert.Warnings))
		if err != nil {
			return fail(Upserting, err)
		}
		e.observe(Upserting, stageStart)
		log.Info("rows upserted",
			zap.String("table", h.Name),
			zap.Int("upserted", res.Upsert.Upserted),
			zap.Int("inserted", res.Upsert.Inserted),
			zap.Int("failed", len(res.Upsert.Failed)),
			zap.Int("warnings", len(res.Upsert.Warnings)))
	}

	// Resolving
	if src.TableName != "" {
		e.set(src.ID, Resolving)
		stageStart = e.now()
		res.Resolution, err = e.resolver.ResolveAll(ctx, src)
		if err != nil {
			return fail(Resolving, err)
		}
		e.observe(Resolving, stageStart)
	}

	if err := e.marks.MarkSynced(ctx, src.ID, started); err != nil {
		return fail(Resolving, fmt.Errorf("advance watermark: %w", err))
	}
	res.Duration = e.now().Sub(started)
	log.Info("sync finished", zap.Duration("duration", res.Duration), zap.Bool("clean", res.Clean()))
	return res, nil
}

func (e *Engine) observe(stage State, start time.Time) {
	metrics.ObserveStage(stage.String(), "ok", e.now().Sub(start))
}
