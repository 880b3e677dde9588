package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"schemasync/internal/metrics"
	"schemasync/internal/storage"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusError   Status = "ERROR"
)

// Catalog is what the Runner reads sources from and logs runs to.
type Catalog interface {
	Sources(ctx context.Context, activeOnly bool) ([]storage.Source, error)
	Source(ctx context.Context, id int) (storage.Source, error)
	AppendSyncLog(ctx context.Context, e storage.SyncLogEntry) error
}

// RunRequest selects what a run syncs. Empty SourceIDs means every active
// source. Explicit IDs that are unknown or inactive are reported and skipped.
type RunRequest struct {
	SourceIDs   []int
	Mode        Mode
	InitiatedBy string
}

// RunReport summarizes a run.
type RunReport struct {
	RunID     string
	Status    Status
	StartedAt time.Time
	Duration  time.Duration
	Sources   []SourceResult
	// Messages are human readable problems, "<alias>: <message>".
	Messages []string

	Processed int
	Upserted  int
	// Inserted and Updated split Upserted into new and existing rows.
	Inserted int
	Updated  int
	Failed   int
}

// Runner syncs a set of sources and records the run in the sync log.
//
// Sources run one at a time unless Parallel > 1. Schema changes stay
// serialized per table either way.
type Runner struct {
	engine   *Engine
	catalog  Catalog
	parallel int
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewRunner returns a Runner. parallel <= 1 runs sources sequentially.
func NewRunner(e *Engine, catalog Catalog, parallel int, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if parallel < 1 {
		parallel = 1
	}
	return &Runner{
		engine:   e,
		catalog:  catalog,
		parallel: parallel,
		log:      log,
		now:      e.now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Run syncs the requested sources and appends one sync log entry.
//
// A failing source degrades the run to PARTIAL; the others still run. The
// run is ERROR when it could not start or every source failed. The returned
// error is non-nil only when the run could not start or the log entry could
// not be written.
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunReport, error) {
	rep := RunReport{RunID: r.newID(), StartedAt: r.now()}
	log := r.log.With(zap.String("run_id", rep.RunID))

	srcs, msgs, err := r.sources(ctx, req.SourceIDs)
	rep.Messages = append(rep.Messages, msgs...)
	if err != nil {
		rep.Status = StatusError
		rep.Messages = append(rep.Messages, "catalog: "+err.Error())
		log.Error("run could not start", zap.Error(err))
		return rep, errors.Join(err, r.finish(ctx, log, &rep, req))
	}

	rep.Sources = make([]SourceResult, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			res, _ := r.engine.SyncSource(gctx, src, req.Mode)
			rep.Sources[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failedSources := 0
	for _, res := range rep.Sources {
		rep.Processed += res.Fetched
		rep.Upserted += res.Upsert.Upserted
		rep.Inserted += res.Upsert.Inserted
		rep.Updated += res.Upsert.Updated
		rep.Failed += len(res.Upsert.Failed)
		if res.Err != nil {
			failedSources++
		}
		rep.Messages = append(rep.Messages, sourceMessages(res)...)
	}
	rep.Failed += failedSources

	switch {
	case failedSources == len(srcs) && (len(srcs) > 0 || len(rep.Messages) > 0):
		rep.Status = StatusError
	case len(rep.Messages) > 0:
		rep.Status = StatusPartial
	default:
		rep.Status = StatusSuccess
	}
	return rep, r.finish(ctx, log, &rep, req)
}

func (r *Runner) sources(ctx context.Context, ids []int) ([]storage.Source, []string, error) {
	if len(ids) == 0 {
		srcs, err := r.catalog.Sources(ctx, true)
		return srcs, nil, err
	}

	var (
		out  []storage.Source
		msgs []string
		seen = make(map[int]bool, len(ids))
	)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		src, err := r.catalog.Source(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			msgs = append(msgs, fmt.Sprintf("source %d: not found", id))
			continue
		}
		if err != nil {
			return nil, msgs, err
		}
		if !src.Active {
			msgs = append(msgs, fmt.Sprintf("source %d: inactive", id))
			continue
		}
		out = append(out, src)
	}
	return out, msgs, nil
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, rep *RunReport, req RunRequest) error {
	rep.Duration = r.now().Sub(rep.StartedAt)
	metrics.RecordRun(string(rep.Status))

	entry := storage.SyncLogEntry{
		RunID:       rep.RunID,
		Kind:        req.Mode.String(),
		InitiatedBy: req.InitiatedBy,
		Status:      string(rep.Status),
		Processed:   rep.Processed,
		Upserted:    rep.Upserted,
		Inserted:    rep.Inserted,
		Updated:     rep.Updated,
		Failed:      rep.Failed,
		Message:     strings.Join(rep.Messages, "\n"),
		Duration:    rep.Duration,
		StartedAt:   rep.StartedAt,
	}
	// The run is over; record it even if the caller's context was cancelled.
	if err := r.catalog.AppendSyncLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Error("sync log write failed", zap.Error(err))
		return fmt.Errorf("append sync log: %w", err)
	}

	log.Info("run finished",
		zap.String("status", string(rep.Status)),
		zap.Int("sources", len(rep.Sources)),
		zap.Int("processed", rep.Processed),
		zap.Int("upserted", rep.Upserted),
		zap.Int("failed", rep.Failed),
		zap.Duration("duration", rep.Duration))
	return nil
}

// sourceMessages lists one source's problems.
func sourceMessages(res SourceResult) []string {
	var out []string
	add := func(format string, args ...any) {
		out = append(out, res.Alias+": "+fmt.Sprintf(format, args...))
	}

	if res.Err != nil {
		add("%v", res.Err)
	}
	for _, f := range res.ColumnFailures {
		add("column %s not added: %v", f.Column, f.Err)
	}
	if n := len(res.Upsert.Failed); n > 0 {
		add("%d rows skipped (first: %s)", n, res.Upsert.Failed[0].Reason)
	}
	if n := len(res.Upsert.Warnings); n > 0 {
		w := res.Upsert.Warnings[0]
		add("%d fields stored as NULL (first: %s on row %s: %v)", n, w.Column, w.RowKey, w.Err)
	}
	for _, me := range res.Resolution.Errors {
		add("%v", me)
	}
	return out
}
