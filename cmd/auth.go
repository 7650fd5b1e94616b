package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/prepd/credentials"
)

var validProviders = []string{
	credentials.ProviderCalendar,
	credentials.ProviderChat,
	credentials.ProviderSMS,
	credentials.ProviderEmail,
}

// NewAuthCommand creates the root auth command.
func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage collaborator API tokens",
		Long: `Manage collaborator API tokens.

Tokens are stored encrypted in ~/.prepd/credentials.yaml. The encryption
key lives in the system keyring; set PREPD_ENCRYPTION_KEY for headless
environments.

Providers: ` + strings.Join(validProviders, ", "),
	}

	cmd.AddCommand(newAuthSetTokenCommand())
	cmd.AddCommand(newAuthShowCommand())
	cmd.AddCommand(newAuthDeleteCommand())
	return cmd
}

func newAuthSetTokenCommand() *cobra.Command {
	var (
		token    string
		endpoint string
	)

	cmd := &cobra.Command{
		Use:   "set-token <provider>",
		Short: "Store a collaborator token",
		Long: `Store a collaborator token, encrypted at rest.

Reads the token from --token, or prompts without echo when the flag is
omitted.

Examples:
  # Prompted, hidden input
  prepd auth set-token calendar

  # Non-interactive
  prepd auth set-token chat --token "$CHAT_TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if err := validateProvider(provider); err != nil {
				return err
			}

			if token == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Token for %s: ", provider)
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("reading token: %w", err)
				}
				token = strings.TrimSpace(string(raw))
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}

			store, err := credentials.NewStore()
			if err != nil {
				return err
			}
			if err := store.SetToken(provider, credentials.Token{
				Value:    token,
				Endpoint: endpoint,
			}); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s token (%s)\n",
				provider, credentials.MaskToken(token))
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Token value (prompted when omitted)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Collaborator endpoint for this token")
	return cmd
}

func newAuthShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List stored tokens (masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewStore()
			if err != nil {
				return err
			}

			providers, err := store.Providers()
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tokens stored")
				return nil
			}

			for _, p := range providers {
				tok, err := store.GetToken(p)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%-10s %s", p, credentials.MaskToken(tok.Value))
				if tok.Endpoint != "" {
					line += "  " + tok.Endpoint
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newAuthDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Delete a stored token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateProvider(args[0]); err != nil {
				return err
			}

			store, err := credentials.NewStore()
			if err != nil {
				return err
			}
			if err := store.DeleteToken(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s token\n", args[0])
			return nil
		},
	}
}

func validateProvider(p string) error {
	for _, v := range validProviders {
		if p == v {
			return nil
		}
	}
	return fmt.Errorf("unknown provider %q (valid: %s)", p, strings.Join(validProviders, ", "))
}
