package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newRegisterCommand creates a new account.
func newRegisterCommand() *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
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

			if err := a.svc.SignUp(ctx, email, password); err != nil {
				return err
			}

			if a.state.IsAuthenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Account created and signed in.")
				return nil
			}

			// Providers without auto-confirm want the email verified first.
			reached, err := a.router.Go(ctx, a.cfg.Routes.VerifyEmail)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created. Check %s for a confirmation link. (%s)\n", email, reached)
			return nil
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")

	return cmd
}

// newLogoutCommand terminates the session.
func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear stored credentials",
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if err := a.svc.SignOut(ctx); err != nil {
				// Local credentials are gone regardless; tell the user
				// the remote side may not have heard.
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out locally; the provider could not be reached.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		}),
	}
}

// newResetPasswordCommand requests a password recovery email.
func newResetPasswordCommand() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password recovery email",
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			var err error
			if email == "" {
				if email, err = promptLine(cmd, "Email: "); err != nil {
					return err
				}
			}
			if err := a.svc.ResetPassword(ctx, email); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "If an account exists for %s, a recovery email is on its way.\n", email)
			return nil
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")

	return cmd
}

// newUpdatePasswordCommand sets a new password. It runs behind the
// recovery gate: a recovery link's error fragment redirects back to
// the reset flow, and a live session is required.
func newUpdatePasswordCommand() *cobra.Command {
	var (
		password string
		fragment string
	)

	cmd := &cobra.Command{
		Use:   "update-password",
		Short: "Set a new password for the signed-in account",
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			decision, err := a.routeGate.ResolveRecovery(ctx, fragment)
			if err != nil {
				return err
			}
			if !decision.Allowed {
				a.nav.NavigateTo(decision.RedirectTo)
				return fmt.Errorf("cannot update password: redirected to %s", decision.RedirectTo)
			}

			if password == "" {
				if password, err = promptLine(cmd, "New password: "); err != nil {
					return err
				}
			}
			if err := a.svc.UpdatePassword(ctx, password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated.")
			return nil
		}),
	}

	cmd.Flags().StringVar(&password, "password", "", "new password (prompted when omitted)")
	cmd.Flags().StringVar(&fragment, "link-fragment", "", "fragment from the recovery link, if following one")

	return cmd
}
