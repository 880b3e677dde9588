package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"schemasync/internal/schema"
)

func newProbeCmd(opts *rootOptions) *cobra.Command {
	var (
		source int
		sample int
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Fetch a source and show its table and the columns a sync would add",
		Long: `probe fetches every row of one source's feed and compares the fields with
the source's table. For a table that exists it lists the current columns and
the ones a sync would add; otherwise it lists the columns the table would be
created with, typed from the first --sample rows. Nothing is written to the
database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				src, err := a.source(ctx, source)
				if err != nil {
					return err
				}
				p, err := schema.LookupProfile(src.Profile)
				if err != nil {
					return err
				}
				reg, err := a.feeds()
				if err != nil {
					return err
				}
				rows, err := reg.Fetch(ctx, src, nil)
				if err != nil {
					return err
				}
				if sample <= 0 {
					sample = a.cfg.Sync.SampleRows
				}

				pv, err := a.manager.Preview(ctx, p, src, schema.Observe(rows, sample))
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				state := "new"
				if pv.Exists {
					state = "exists"
				}
				fmt.Fprintf(w, "table %s (%s, %d rows fetched)\n", pv.Table, state, len(rows))

				added := make(map[string]bool, len(pv.Added))
				for _, c := range pv.Added {
					added[c.Name] = true
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "COLUMN\tTYPE\t")
				for _, c := range pv.Columns {
					note := ""
					switch {
					case p.IsSystem(c.Name):
						note = "system"
					case added[c.Name]:
						note = "new"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Type, note)
				}
				if pv.Exists {
					for _, c := range pv.Added {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Type, "would be added")
					}
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				for _, f := range pv.Skipped {
					fmt.Fprintf(w, "skipped %q: name collides with another column\n", f)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&source, "source", "s", 0, "source ID")
	cmd.Flags().IntVar(&sample, "sample", 0, "rows used for type inference (default: sync.sample_rows)")
	return cmd
}
