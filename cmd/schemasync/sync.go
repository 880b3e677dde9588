package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"schemasync/internal/engine"
	"schemasync/internal/seed"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the catalog tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.store.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "catalog is up to date")
				return nil
			})
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var (
		sources     []int
		incremental bool
		mode        string
		parallel    int
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch, evolve, upsert and resolve sources",
		Long: `sync runs one cycle for every active source, or for the sources given with
--source. A failing source makes the run PARTIAL; the others still run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if mode == "" {
					mode = a.cfg.Sync.Mode
				}
				if incremental {
					mode = engine.Incremental.String()
				}
				m, err := engine.ParseMode(mode)
				if err != nil {
					return err
				}
				r, err := a.runner(parallel)
				if err != nil {
					return err
				}

				rep, err := r.Run(ctx, engine.RunRequest{SourceIDs: sources, Mode: m, InitiatedBy: opts.by(a)})
				printReport(cmd.OutOrStdout(), rep)
				if err != nil {
					return err
				}
				if rep.Status == engine.StatusError {
					return fmt.Errorf("run %s failed", rep.RunID)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntSliceVarP(&sources, "source", "s", nil, "source IDs (default: every active source)")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "only fetch rows submitted since the last sync")
	cmd.Flags().StringVar(&mode, "mode", "", "full or incremental (default: sync.mode)")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "sources synced at once (default: sync.parallel_sources)")
	return cmd
}

func printReport(w io.Writer, rep engine.RunReport) {
	fmt.Fprintf(w, "run %s: %s in %s (%d new, %d updated)\n",
		rep.RunID, rep.Status, rep.Duration.Round(time.Millisecond), rep.Inserted, rep.Updated)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTABLE\tFETCHED\tUPSERTED\tCOLUMNS+\tRESOLVED\tUNRESOLVED\tSTATUS")
	for _, s := range rep.Sources {
		status := "ok"
		switch {
		case s.Err != nil:
			status = "failed in " + s.FailedIn.String()
		case !s.Clean():
			status = "partial"
		}
		fmt.Fprintf(tw, "%d %s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.SourceID, s.Alias, s.Table, s.Fetched, s.Upsert.Upserted, s.ColumnsAdded,
			s.Resolution.Resolved, s.Resolution.Unresolved, status)
	}
	_ = tw.Flush()
	for _, m := range rep.Messages {
		fmt.Fprintln(w, "  -", m)
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List recent runs from the sync log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				logs, err := a.store.SyncLogs(ctx, limit)
				if err != nil {
					return err
				}
				if len(logs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tKIND\tSTATUS\tPROCESSED\tNEW\tUPDATED\tFAILED\tSTARTED\tDURATION\tBY")
				for _, e := range logs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
						e.RunID, e.Kind, e.Status, e.Processed, e.Inserted, e.Updated, e.Failed,
						e.StartedAt.Format(time.RFC3339), e.Duration.Round(time.Millisecond), e.InitiatedBy)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				for _, e := range logs {
					if e.Message != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", e.RunID, e.Message)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs listed; 0 lists all")
	return cmd
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var sourceID int
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve pending references of one source without fetching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				src, err := a.source(ctx, sourceID)
				if err != nil {
					return err
				}
				if src.TableName == "" {
					return fmt.Errorf("source %d has not been synced yet", src.ID)
				}
				c, err := a.resolver.ResolveAll(ctx, src)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "attempted %d, resolved %d, unresolved %d\n", c.TotalAttempted, c.Resolved, c.Unresolved)
				for _, e := range c.Errors {
					fmt.Fprintln(out, "  -", e.Error())
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&sourceID, "source", "s", 0, "source ID")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sources, mappings, aliases, personnel and dictionary entries from YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if path == "" {
					path = a.cfg.SeedFile
				}
				if path == "" {
					return fmt.Errorf("no seed file: pass -f or set seed_file")
				}
				f, err := seed.Load(path)
				if err != nil {
					return err
				}
				c, err := seed.Apply(ctx, a.store, f, opts.by(a), a.log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sources %d, field mappings %d, store aliases %d, personnel %d, value mappings %d\n",
					c.Sources, c.FieldMappings, c.StoreAliases, c.Personnel, c.ValueMappings)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "seed file (default: seed_file)")
	return cmd
}

func newUnresolvedCmd(opts *rootOptions) *cobra.Command {
	var (
		sourceID int
		typ      mappingTypeFlag
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "unresolved",
		Short: "List distinct source values that did not resolve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !typ.set {
				return fmt.Errorf("--type is required")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				src, err := a.source(ctx, sourceID)
				if err != nil {
					return err
				}
				vals, err := a.resolver.Unresolved(ctx, src, typ.t, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VALUE\tROWS")
				for _, v := range vals {
					fmt.Fprintf(tw, "%s\t%d\n", v.Value, v.Rows)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&sourceID, "source", "s", 0, "source ID")
	cmd.Flags().VarP(&typ, "type", "t", "mapping type: store-reference or person-reference")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum values listed")
	return cmd
}
