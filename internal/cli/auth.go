package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gallerio/internal/api"
)

func newLoginCmd(flags *rootFlags) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				var err error
				if strings.TrimSpace(email) == "" {
					if email, err = a.prompt("Email: "); err != nil {
						return err
					}
				}
				if password == "" {
					if password, err = readPassword(cmd, a); err != nil {
						return err
					}
				}

				token, identity, err := a.client.Login(ctx, api.Credentials{Email: strings.TrimSpace(email), Password: password})
				if err != nil {
					return errors.New(api.Describe(err, "Login failed. Please try again."))
				}
				if err := a.session.Login(ctx, identity, token); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
				a.printf("Signed in as %s (%s)\n", displayName(identity.DisplayName, identity.Email), identity.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
	return cmd
}

// readPassword masks input on a terminal and falls back to a plain line otherwise.
func readPassword(cmd *cobra.Command, a *app) (string, error) {
	if in, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(in.Fd())) {
		a.printf("Password: ")
		raw, err := term.ReadPassword(int(in.Fd()))
		a.printf("\n")
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	return a.prompt("Password: ")
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if err := a.session.Logout(ctx); err != nil {
					return fmt.Errorf("logout: %w", err)
				}
				a.printf("Signed out.\n")
				return nil
			})
		},
	}
}

func newWhoamiCmd(flags *rootFlags) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				identity, ok := a.session.Current()
				if !ok {
					a.printf("Not signed in.\n")
					return nil
				}
				if verify {
					if _, err := a.client.Verify(ctx, a.session.Token()); err != nil {
						return errors.New(api.Describe(err, "Could not verify the session."))
					}
				}
				a.printf("%s <%s>\nid:   %d\nrole: %s\n", displayName(identity.DisplayName, identity.Email), identity.Email, identity.ID, identity.Role)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check the token with the backend")
	return cmd
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return fallback
}
