package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// NewUserCommand creates the root user command.
func NewUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Short:   "Manage calendar-connected users",
		Aliases: []string{"users"},
	}

	cmd.AddCommand(newUserAddCommand())
	cmd.AddCommand(newUserListCommand())
	return cmd
}

func newUserAddCommand() *cobra.Command {
	var (
		email    string
		phone    string
		channels []string
	)

	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Register or update a user",
		Long: `Register a user for calendar sync, or update an existing one.

The sync pass only fetches calendars for registered users. The --channels
flag overrides the service-default notification fallback order for this
user.

Examples:
  prepd user add u-42 --email ada@example.com
  prepd user add u-42 --email ada@example.com --channels sms,chat --phone +15550100`,
		Args: cobra.ExactArgs(1),
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

			u := &meeting.User{
				ID:                args[0],
				Email:             email,
				PhoneNumber:       phone,
				CalendarConnected: true,
			}
			for _, ch := range channels {
				u.Channels = append(u.Channels, meeting.Channel(ch))
			}

			if err := eng.Store.UpsertUser(cmd.Context(), u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s registered\n", u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number for SMS delivery")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "Preferred notification channel order (chat, sms, email)")
	return cmd
}

func newUserListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List calendar-connected users",
		Args:  cobra.NoArgs,
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

			users, err := eng.Store.ListConnectedUsers(cmd.Context())
			if err != nil {
				return err
			}

			if done, perr := printOutput(cmd.OutOrStdout(), users); done {
				return perr
			}
			renderUserTable(cmd.OutOrStdout(), users)
			return nil
		},
	}
}

func renderUserTable(w io.Writer, users []*meeting.User) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tPHONE\tCHANNELS")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			u.ID, u.Email, u.PhoneNumber, channelNames(u.Channels))
	}
	tw.Flush()
}
