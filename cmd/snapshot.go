package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/healthsync/internal/source"
)

func newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the HeartCloud sessions page for selector debugging",
		Long: `Logs in to the HeartCloud dashboard, opens the sessions page and stores a
screenshot and the page HTML in the artifact store, printing their locations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			src, err := appInstance.HeartCloud()
			if err != nil {
				return err
			}
			runID, err := appInstance.IDs().NewID()
			if err != nil {
				return err
			}
			uris, err := src.Snapshot(source.WithRunID(cmd.Context(), runID))
			for _, uri := range uris {
				fmt.Fprintln(cmd.OutOrStdout(), uri)
			}
			if err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			return nil
		},
	}
}
