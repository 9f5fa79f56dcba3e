package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// loginCommand creates the "login" command. It stores a token that was
// issued elsewhere.
func (c *CLI) loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store an API token for later requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])
			if token == "" {
				return errors.New("token must not be empty")
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err = a.session.SetToken(cmd.Context(), token); err != nil {
				return fmt.Errorf("cannot store token: %w", err)
			}
			fmt.Fprintln(c.errOut, "Token stored")
			return nil
		},
	}
}

// logoutCommand creates the "logout" command.
func (c *CLI) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token and user profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err = a.session.Purge(cmd.Context()); err != nil {
				return fmt.Errorf("cannot remove session: %w", err)
			}
			fmt.Fprintln(c.errOut, "Logged out")
			return nil
		},
	}
}
