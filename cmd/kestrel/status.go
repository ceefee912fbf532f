package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newStatusCommand reports the current session state. It navigates the
// dashboard route through the guard, so an anonymous run demonstrates
// the redirect instead of leaking protected output.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			reached, err := a.router.Go(ctx, a.cfg.Routes.Dashboard)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			snap := a.state.Snapshot()
			if !snap.Authenticated() {
				fmt.Fprintf(out, "Not signed in. (redirected to %s)\n", reached)
				return nil
			}

			fmt.Fprintf(out, "Signed in as %s\n", snap.User.Email)
			fmt.Fprintf(out, "  user id:  %s\n", snap.User.ID)
			if !snap.User.CreatedAt.IsZero() {
				fmt.Fprintf(out, "  created:  %s\n", snap.User.CreatedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "  route:    %s\n", reached)
			return nil
		}),
	}
}

// newCallCommand performs an authenticated HTTP request through the
// outbound request guard: bearer attached, expired tokens refreshed
// and the request retried once.
func newCallCommand() *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "call URL",
		Short: "Make an authenticated API request",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(ctx, method, args[0], nil)
			if err != nil {
				return fmt.Errorf("building request: %w", err)
			}

			client := a.guard.Client(30 * time.Second)
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close() //nolint:errcheck // Best effort close

			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", resp.Status)
			if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")

	return cmd
}
