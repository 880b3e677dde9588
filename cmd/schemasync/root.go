package main

import (
	"context"

	"github.com/spf13/cobra"

	"schemasync/internal/resolve"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	updatedBy  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "schemasync",
		Short: "Mirror form and ticket exports into per-source tables",
		Long: `schemasync fetches rows from configured source exports, creates and
additively evolves one table per source, upserts rows by natural key and
resolves store and person references into _ref_ columns.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "schemasync.yaml", "config file (empty reads the environment only)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&opts.updatedBy, "by", "", "who is making the change (default: sync.initiated_by)")

	root.AddCommand(
		newMigrateCmd(opts),
		newSyncCmd(opts),
		newProbeCmd(opts),
		newStatusCmd(opts),
		newResolveCmd(opts),
		newSeedCmd(opts),
		newUnresolvedCmd(opts),
		newMappingCmd(opts),
		newDictCmd(opts),
	)
	return root
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func (o *rootOptions) by(a *app) string {
	if o.updatedBy != "" {
		return o.updatedBy
	}
	return a.cfg.Sync.InitiatedBy
}

// mappingTypeFlag adapts resolve.MappingType to pflag.Value.
type mappingTypeFlag struct {
	t   resolve.MappingType
	set bool
}

func (f *mappingTypeFlag) String() string {
	if !f.set {
		return ""
	}
	return f.t.String()
}

func (f *mappingTypeFlag) Set(s string) error {
	t, err := resolve.ParseMappingType(s)
	if err != nil {
		return err
	}
	f.t, f.set = t, true
	return nil
}

func (f *mappingTypeFlag) Type() string { return "mapping-type" }
