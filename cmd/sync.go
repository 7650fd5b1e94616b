package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/pkg/calsync"
)

// NewSyncCommand creates the 'sync' command.
func NewSyncCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one calendar sync pass",
		Long: `Run one calendar sync pass.

Fetches upcoming events for every calendar-connected user (or one user with
--user), creates and classifies new meetings, reclassifies materially
changed ones, and arms prep trigger timers. One user's provider failure
never aborts the others.

Examples:
  # Sync all connected users
  prepd sync

  # Sync a single user
  prepd sync --user u-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			eng, err := buildEngine(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			var report *calsync.Report
			if userID != "" {
				report, err = eng.Synchronizer.SyncUser(cmd.Context(), userID)
			} else {
				report, err = eng.Synchronizer.SyncAll(cmd.Context())
			}
			if err != nil {
				return err
			}

			if done, perr := printOutput(cmd.OutOrStdout(), report); done {
				return perr
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Synced %d user(s): %d created, %d updated, %d cancelled\n",
				report.UsersSynced, report.Created, report.Updated, report.Cancelled)
			for id, uerr := range report.UserErrors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  user %s: %v\n", id, uerr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Sync a single user")
	return cmd
}
