package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMappingCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage which source column holds which reference type",
	}

	var (
		sourceID int
		typ      mappingTypeFlag
		column   string
	)
	requireType := func() error {
		if !typ.set {
			return fmt.Errorf("--type is required")
		}
		return nil
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Map a column; use __NO_MAP__ to disable a type for the source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireType(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				src, err := a.source(ctx, sourceID)
				if err != nil {
					return err
				}
				m, err := a.resolver.SetMapping(ctx, src, typ.t, column, opts.by(a))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "source %d: %s -> %s\n", src.ID, m.Type, m.Column)
				return nil
			})
		},
	}
	set.Flags().StringVar(&column, "column", "", "column name as stored in the table")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove a mapping; resolved values stay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireType(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.resolver.DeleteMapping(ctx, sourceID, typ.t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "source %d: %s mapping removed\n", sourceID, typ.t)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the mappings of a source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				ms, err := a.resolver.Mappings(ctx, sourceID)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tCOLUMN\tUPDATED BY\tUPDATED AT")
				for _, m := range ms {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Type, m.Column, m.UpdatedBy, m.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	detect := &cobra.Command{
		Use:   "detect",
		Short: "Map unmapped types from column names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				src, err := a.source(ctx, sourceID)
				if err != nil {
					return err
				}
				found, err := a.resolver.AutoDetect(ctx, src, opts.by(a))
				if err != nil {
					return err
				}
				if len(found) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "source %d: nothing detected\n", src.ID)
				}
				for _, m := range found {
					fmt.Fprintf(cmd.OutOrStdout(), "source %d: %s -> %s\n", src.ID, m.Type, m.Column)
				}
				return nil
			})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show how many rows of a source are resolved per mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				src, err := a.source(ctx, sourceID)
				if err != nil {
					return err
				}
				st, err := a.resolver.Stats(ctx, src)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if !st.TableExists {
					fmt.Fprintf(w, "table %s does not exist yet\n", st.Table)
				} else {
					fmt.Fprintf(w, "table %s: %d rows\n", st.Table, st.TotalRows)
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tCOLUMN\tRESOLVED\tUNRESOLVED\tNOTE")
				for _, ts := range st.Types {
					var note string
					switch {
					case ts.Disabled:
						note = "disabled"
					case ts.ColumnMissing:
						note = "column missing"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", ts.Type, ts.Column, ts.Resolved, ts.Unresolved, note)
				}
				return tw.Flush()
			})
		},
	}

	for _, c := range []*cobra.Command{set, del, list, detect, stats} {
		c.Flags().IntVarP(&sourceID, "source", "s", 0, "source ID")
	}
	for _, c := range []*cobra.Command{set, del} {
		c.Flags().VarP(&typ, "type", "t", "mapping type: store-reference or person-reference")
	}
	cmd.AddCommand(set, del, list, detect, stats)
	return cmd
}

func newDictCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Manage manual value mappings, which win over every lookup",
	}

	var (
		typ   mappingTypeFlag
		value string
		id    string
		label string
	)
	check := func() error {
		if !typ.set {
			return fmt.Errorf("--type is required")
		}
		if value == "" {
			return fmt.Errorf("--value is required")
		}
		return nil
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Add or replace an entry and backfill unresolved rows carrying the value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := check(); err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := a.resolver.SetValueMapping(ctx, value, typ.t, id, label, opts.by(a))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %q -> %s (%d rows backfilled)\n", typ.t, value, id, n)
				return nil
			})
		},
	}
	set.Flags().StringVar(&id, "id", "", "resolved id")
	set.Flags().StringVar(&label, "label", "", "resolved label")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove an entry; rows already resolved keep their values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := check(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.resolver.DeleteValueMapping(ctx, value, typ.t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %q removed\n", typ.t, value)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{set, del} {
		c.Flags().VarP(&typ, "type", "t", "mapping type: store-reference or person-reference")
		c.Flags().StringVar(&value, "value", "", "source value as it appears in the data")
	}
	cmd.AddCommand(set, del)
	return cmd
}
