package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// NewSessionCommand creates the root session command.
func NewSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Short:   "Inspect chat preparation sessions",
		Aliases: []string{"sessions", "cs"},
	}

	cmd.AddCommand(newSessionListCommand())
	cmd.AddCommand(newSessionShowCommand())
	return cmd
}

func newSessionListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open chat sessions",
		Long: `List chat sessions still waiting for a human response.

Each open session holds a single-use resume token and expires after the
configured gate timeout.`,
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

			sessions, err := eng.Store.ListOpenSessions(cmd.Context())
			if err != nil {
				return err
			}

			if done, perr := printOutput(cmd.OutOrStdout(), sessions); done {
				return perr
			}
			renderSessionTable(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func newSessionShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one chat session",
		Args:  cobra.ExactArgs(1),
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

			sess, err := eng.Store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if done, perr := printOutput(cmd.OutOrStdout(), sess); done {
				return perr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID:        %s\n", sess.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Meeting:   %s\n", sess.MeetingID)
			fmt.Fprintf(cmd.OutOrStdout(), "User:      %s\n", sess.UserID)
			fmt.Fprintf(cmd.OutOrStdout(), "State:     %s\n", sess.State)
			fmt.Fprintf(cmd.OutOrStdout(), "Expires:   %s\n", sess.ExpiresAt.Local())
			if len(sess.Responses) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Responses: %d\n", len(sess.Responses))
			}
			return nil
		},
	}
}

func renderSessionTable(w io.Writer, sessions []*meeting.ChatSession) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMEETING\tUSER\tSTATE\tEXPIRES")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.MeetingID, s.UserID, s.State,
			s.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
