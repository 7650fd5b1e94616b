// Package main provides the prepd CLI entry point.
// prepd is the meeting preparation workflow engine: it mirrors users'
// calendars, classifies upcoming meetings, and drives each one through a
// durable notification, chat-prep, and reminder lifecycle.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/cmd"
	"github.com/otherjamesbrown/prepd/pkg/buildinfo"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "prepd",
	Short: "Meeting preparation workflow engine",
	Long: `prepd prepares you for meetings before they happen.

It mirrors upcoming calendar events, classifies them into meeting types,
and at the right time notifies you over your preferred channel, collects
prep answers through a chat session, and reminds you shortly before the
meeting starts with the prepared materials.

GETTING STARTED:
  prepd db migrate                 Create the schema
  prepd auth set-token calendar    Store the calendar provider token
  prepd user add <id> --email ...  Register a user for sync
  prepd serve                      Run the engine

DISCOVERY:
  prepd <command> --help           Subcommands, flags, and examples`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		fmt.Fprintln(c.OutOrStdout(), "prepd "+buildinfo.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmd.ConfigPath, "config", "", "Config file (default ~/.prepd/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&cmd.OutputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&cmd.Debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cmd.NewServeCommand())
	rootCmd.AddCommand(cmd.NewSyncCommand())
	rootCmd.AddCommand(cmd.NewMeetingCommand())
	rootCmd.AddCommand(cmd.NewSessionCommand())
	rootCmd.AddCommand(cmd.NewMaterialsCommand())
	rootCmd.AddCommand(cmd.NewUserCommand())
	rootCmd.AddCommand(cmd.NewAuthCommand())
	rootCmd.AddCommand(cmd.NewDbCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
