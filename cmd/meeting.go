package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// NewMeetingCommand creates the root meeting command with all subcommands.
func NewMeetingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meeting",
		Short: "Inspect and manage tracked meetings",
		Long: `Inspect and manage tracked meetings.

A meeting moves through the preparation lifecycle:
  discovered → classified → prep_scheduled → prep_in_progress →
  prep_completed → reminder_sent → completed

Cancellation is allowed from any non-terminal state.`,
		Aliases: []string{"meetings", "mt"},
	}

	cmd.AddCommand(newMeetingListCommand())
	cmd.AddCommand(newMeetingShowCommand())
	cmd.AddCommand(newMeetingCancelCommand())
	cmd.AddCommand(newMeetingSnoozeCommand())
	return cmd
}

func newMeetingListCommand() *cobra.Command {
	var (
		userID string
		days   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's upcoming meetings",
		Long: `List a user's tracked meetings starting within the window.

Examples:
  # Meetings in the next 14 days
  prepd meeting list --user u-42

  # Meetings in the next 2 days as JSON
  prepd meeting list --user u-42 --days 2 --output json`,
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

			now := time.Now().UTC()
			meetings, err := eng.Store.ListMeetingsByUser(cmd.Context(), userID, now, now.Add(time.Duration(days)*24*time.Hour))
			if err != nil {
				return err
			}

			if done, perr := printOutput(cmd.OutOrStdout(), meetings); done {
				return perr
			}
			renderMeetingTable(cmd.OutOrStdout(), meetings)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (required)")
	cmd.Flags().IntVar(&days, "days", 14, "Forward window in days")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMeetingShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <meeting-id>",
		Short: "Show one meeting",
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

			m, err := eng.Store.GetMeeting(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if done, perr := printOutput(cmd.OutOrStdout(), m); done {
				return perr
			}
			renderMeetingDetail(cmd.OutOrStdout(), m)
			return nil
		},
	}
}

func newMeetingCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <meeting-id>",
		Short: "Cancel a meeting's preparation workflow",
		Long: `Cancel a meeting's preparation workflow.

Moves the meeting to cancelled, closes any open chat session, and disarms
its pending timers. Cancelling an already terminal meeting is a no-op.`,
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

			if err := eng.Orchestrator.CancelMeeting(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Meeting %s cancelled\n", args[0])
			return nil
		},
	}
}

func newMeetingSnoozeCommand() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "snooze <meeting-id>",
		Short: "Schedule an extra reminder for a meeting",
		Long: `Schedule a one-shot extra reminder for a meeting.

The snooze reminder fires after --delay and never changes the meeting's
status or its regular prep trigger.

Examples:
  prepd meeting snooze mt-abcd1234 --delay 30m`,
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

			if err := eng.Orchestrator.Snooze(cmd.Context(), args[0], delay); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reminder for %s snoozed by %s\n", args[0], delay)
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 15*time.Minute, "How long until the extra reminder fires")
	return cmd
}

// renderMeetingTable writes a tab-aligned meeting listing.
func renderMeetingTable(w io.Writer, meetings []*meeting.Meeting) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tTYPE\tSTATUS\tTITLE")
	for _, m := range meetings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ID,
			m.StartTime.Local().Format("2006-01-02 15:04"),
			m.MeetingType,
			m.Status,
			m.Title)
	}
	tw.Flush()
}

// renderMeetingDetail writes one meeting's full record.
func renderMeetingDetail(w io.Writer, m *meeting.Meeting) {
	fmt.Fprintf(w, "ID:          %s\n", m.ID)
	fmt.Fprintf(w, "Title:       %s\n", m.Title)
	fmt.Fprintf(w, "User:        %s\n", m.UserID)
	fmt.Fprintf(w, "Source:      %s (%s)\n", m.Source, m.ExternalID)
	fmt.Fprintf(w, "Start:       %s\n", m.StartTime.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "End:         %s\n", m.EndTime.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Type:        %s\n", m.MeetingType)
	fmt.Fprintf(w, "Status:      %s\n", m.Status)
	if m.PrepTriggerTime != nil {
		fmt.Fprintf(w, "Prep due:    %s\n", m.PrepTriggerTime.Local().Format(time.RFC1123))
	}
	if m.NotificationSent() {
		fmt.Fprintf(w, "Notified:    %s (%s)\n", m.NotificationSentAt.Local().Format(time.RFC1123), m.NotificationID)
	}
	if m.SessionID != "" {
		fmt.Fprintf(w, "Session:     %s\n", m.SessionID)
	}
	if m.MaterialsRef != "" {
		fmt.Fprintf(w, "Materials:   %s\n", m.MaterialsRef)
	}
	if m.NeedsFollowUp {
		fmt.Fprintf(w, "Follow-up:   needed (%d dispatch attempts)\n", m.DispatchAttempts)
	}
}
