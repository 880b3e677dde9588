package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"schemasync/internal/config"
	"schemasync/internal/engine"
	"schemasync/internal/feed"
	"schemasync/internal/logging"
	"schemasync/internal/metrics"
	"schemasync/internal/metrics/datadog"
	"schemasync/internal/resolve"
	"schemasync/internal/schema"
	"schemasync/internal/storage"

	// register every backend with the storage factory; config picks one.
	_ "schemasync/internal/storage/all"
)

// app holds the wired components one command invocation needs.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    storage.Store
	manager  *schema.Manager
	resolver *resolve.Service

	closers []func() error
}

func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	if err := a.startMetrics(ctx); err != nil {
		log.Warn("metrics disabled", zap.Error(err))
	}

	log.Info("opening store",
		zap.String("backend", cfg.Database.Backend),
		zap.String("dsn", logging.RedactDSN(cfg.Database.DSNWithPassword())))
	st, err := storage.Open(ctx, storage.Config{
		Backend:      cfg.Database.Backend,
		DSN:          cfg.Database.DSNWithPassword(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Logger:       log,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	a.manager = schema.NewManager(st, log)
	a.resolver = resolve.NewService(st, a.manager, resolve.NewCache(cfg.Resolver.CacheTTL, nil), log)
	return a, nil
}

func (a *app) startMetrics(ctx context.Context) error {
	switch a.cfg.Metrics.Backend {
	case "datadog":
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    a.cfg.Metrics.JobName,
			Tags:       datadog.ParseTagsCSV(a.cfg.Metrics.Tags),
			FlushEvery: a.cfg.Metrics.FlushInterval,
		})
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
		a.closers = append(a.closers, func() error {
			metrics.SetBackend(nil)
			return b.Close()
		})
		a.log.Info("metrics enabled", zap.String("backend", "datadog"), zap.String("job", a.cfg.Metrics.JobName))
	default:
		a.log.Debug("metrics disabled")
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}

func (a *app) source(ctx context.Context, id int) (storage.Source, error) {
	if id <= 0 {
		return storage.Source{}, fmt.Errorf("--source is required")
	}
	return a.store.Source(ctx, id)
}

func (a *app) feeds() (*feed.Registry, error) {
	return feed.FromSpecs(a.cfg.Feeds, feed.NewLoader(nil, feed.DefaultTimeout))
}

// runner wires the sync pipeline from configuration.
func (a *app) runner(parallel int) (*engine.Runner, error) {
	reg, err := a.feeds()
	if err != nil {
		return nil, err
	}

	var res engine.Resolver = a.resolver
	if a.cfg.Resolver.AutoDetect {
		res = autoDetecting{Service: a.resolver, by: a.cfg.Sync.InitiatedBy, log: a.log}
	}

	eng := engine.New(reg, a.manager, schema.NewUpserter(a.store, a.log, nil), res, a.store, engine.Options{
		SampleRows: a.cfg.Sync.SampleRows,
		Logger:     a.log,
	})
	if parallel <= 0 {
		parallel = a.cfg.Sync.ParallelSources
	}
	return engine.NewRunner(eng, a.store, parallel, a.log), nil
}

// autoDetecting proposes mappings from column names before resolving a
// source. Types that already have a mapping are left alone.
type autoDetecting struct {
	*resolve.Service
	by  string
	log *zap.Logger
}

func (d autoDetecting) ResolveAll(ctx context.Context, src storage.Source) (resolve.Counts, error) {
	found, err := d.AutoDetect(ctx, src, d.by)
	if err != nil {
		return resolve.Counts{}, fmt.Errorf("auto-detect mappings: %w", err)
	}
	for _, m := range found {
		d.log.Info("mapping detected",
			zap.Int("source_id", src.ID), zap.String("mapping_type", m.Type.String()), zap.String("column", m.Column))
	}
	return d.Service.ResolveAll(ctx, src)
}
