package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/syncer"
)

type syncOptions struct {
	date   string
	dryRun bool
	all    bool
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions
	cmd := &cobra.Command{
		Use:   "sync [source...]",
		Short: "Sync one day of data for the named sources",
		Long: `Collects the requested day (yesterday in the configured time zone by default)
from each named source in turn and upserts the rows. A source with nothing for the
day reports no_data and does not fail the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.date, "date", "", "day to sync as YYYY-MM-DD (default yesterday)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "collect and print rows without writing them")
	cmd.Flags().BoolVar(&opts.all, "all", false, "sync every registered source")
	return cmd
}

func runSync(cmd *cobra.Command, args []string, opts syncOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	names := args
	if opts.all {
		names = appInstance.Registry().Names()
	}
	if len(names) == 0 {
		return fmt.Errorf("name at least one source (%v) or pass --all", appInstance.Registry().Names())
	}

	clock := appInstance.Clock()
	day := syncer.Yesterday(clock.Now())
	if opts.date != "" {
		if day, err = syncer.ParseDay(opts.date, clock.Location()); err != nil {
			return err
		}
	}

	logger := appInstance.Logger()
	var failures []error
	for _, name := range names {
		report, err := appInstance.Runner().Run(cmd.Context(), syncer.Request{
			Source: name,
			Day:    day,
			DryRun: opts.dryRun,
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			if cmd.Context().Err() != nil {
				break
			}
			continue
		}
		logger.Info("source synced",
			zap.String("source", name),
			zap.String("status", string(report.Status)),
			zap.Int("inserted", report.Inserted),
			zap.Int("updated", report.Updated),
		)
	}
	return errors.Join(failures...)
}
