package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/prepd/pkg/materials"
)

// NewMaterialsCommand creates the 'materials' command.
func NewMaterialsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "materials",
		Short: "Show generated prep materials",
	}

	cmd.AddCommand(newMaterialsShowCommand())
	return cmd
}

func newMaterialsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <meeting-id>",
		Short: "Render a meeting's prep materials as Markdown",
		Long: `Render a meeting's generated prep materials as Markdown.

Materials exist once prep completes (with the user's responses, or empty
after a gate timeout).`,
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

			m, err := eng.Store.GetMeeting(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if m.MaterialsRef == "" {
				return fmt.Errorf("meeting %s has no materials yet (status %s)", m.ID, m.Status)
			}

			mat, err := eng.Materials.Get(cmd.Context(), m.MaterialsRef)
			if err != nil {
				return err
			}

			if done, perr := printOutput(cmd.OutOrStdout(), mat); done {
				return perr
			}
			fmt.Fprint(cmd.OutOrStdout(), materials.RenderMarkdown(mat))
			return nil
		},
	}
}
