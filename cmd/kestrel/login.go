package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrel-auth/kestrel/internal/gateway"
)

// newLoginCommand signs in with email/password or Google OAuth.
func newLoginCommand() *cobra.Command {
	var (
		email    string
		password string
		google   bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the identity provider",
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			return runLogin(ctx, a, cmd, email, password, google)
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	cmd.Flags().BoolVar(&google, "google", false, "sign in with Google via the browser")

	return cmd
}

// runLogin performs the sign-in and the post-sign-in navigation.
// An unconfirmed account is handled here, not escalated: the user is
// sent to the verify-email route with a pointed message instead of
// the generic failure report.
func runLogin(ctx context.Context, a *app, cmd *cobra.Command, email, password string, google bool) error {
	if google {
		if err := a.svc.SignInWithGoogle(ctx); err != nil {
			return err
		}
	} else {
		var err error
		if email == "" {
			if email, err = promptLine(cmd, "Email: "); err != nil {
				return err
			}
		}
		if password == "" {
			if password, err = promptLine(cmd, "Password: "); err != nil {
				return err
			}
		}
		if err := a.svc.SignInWithEmail(ctx, email, password); err != nil {
			if gateway.KindOf(err) == gateway.KindEmailNotConfirmed {
				reached, gerr := a.router.Go(ctx, a.cfg.Routes.VerifyEmail)
				if gerr != nil {
					return gerr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", gateway.UserMessage(err), reached)
				return nil
			}
			return err
		}
	}

	// State arrives through the gateway subscription; the adapter
	// broadcasts synchronously, so it is visible here.
	snap := a.state.Snapshot()
	if !snap.Authenticated() {
		return fmt.Errorf("sign-in completed but no session arrived")
	}

	reached, err := a.router.Go(ctx, a.cfg.Routes.Dashboard)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", snap.User.Email, reached)
	return nil
}

// promptLine reads one line from the command's input stream.
func promptLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
