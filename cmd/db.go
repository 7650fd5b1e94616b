package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/pkg/db"
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Short:   "Database management commands",
		Aliases: []string{"database"},
		Long: `Database management commands.

The db command connects directly to PostgreSQL using the configured
database settings (or PREPD_DB_* environment variables).

Examples:
  # Check connectivity and pool health
  prepd db ping

  # Apply pending schema migrations
  prepd db migrate`,
	}

	cmd.AddCommand(newDbPingCommand())
	cmd.AddCommand(newDbMigrateCommand())
	return cmd
}

func newDbPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			pool, err := db.Connect(cmd.Context(), db.FromAppConfig(cfg.Database))
			if err != nil {
				return err
			}
			defer db.Close(pool)

			status := db.Check(cmd.Context(), pool)
			if !status.Healthy {
				return fmt.Errorf("database unhealthy: %v", status.Error)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Database healthy (latency %s, %d/%d connections in use)\n",
				status.Latency, status.AcquiredConns, status.TotalConns)
			return nil
		},
	}
}

func newDbMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply pending schema migrations.

Migrations run in order inside transactions and are tracked in
prepd_schema_migrations, so re-running is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			pool, err := db.Connect(cmd.Context(), db.FromAppConfig(cfg.Database))
			if err != nil {
				return err
			}
			defer db.Close(pool)

			applied, err := db.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}

			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		},
	}
}
