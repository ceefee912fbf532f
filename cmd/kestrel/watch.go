package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-auth/kestrel/internal/events"
	"github.com/kestrel-auth/kestrel/internal/session"
)

// newWatchCommand keeps the session alive and follows out-of-band
// events until interrupted. A sign-out on another device clears local
// state; a provider-side token rotation triggers a refresh.
func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Hold the session open and follow auth events",
		RunE: runWithApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if !a.state.IsAuthenticated() {
				return fmt.Errorf("not signed in")
			}

			out := cmd.OutOrStdout()
			a.state.Subscribe(func(snap session.Snapshot) {
				if snap.Authenticated() {
					fmt.Fprintf(out, "session active: %s\n", snap.User.Email)
				} else {
					fmt.Fprintln(out, "signed out")
				}
			})

			feed, err := events.New(a.cfg.Events, func(ev events.Event) {
				a.log.Info("session event", "type", ev.Type, "user_id", ev.UserID)
				switch ev.Type {
				case events.TypeSignedOut:
					a.state.Clear()
				case events.TypeTokenRotated:
					if _, err := a.svc.RefreshSession(ctx); err != nil {
						a.log.Warn("refresh after rotation event failed", "error", err)
					}
				}
			}, a.log)
			if err != nil {
				return err
			}

			if feed == nil {
				fmt.Fprintln(out, "watching (no event feed configured; token rotation only)")
				<-ctx.Done()
				return nil
			}
			defer feed.Close() //nolint:errcheck // Shutdown path

			fmt.Fprintln(out, "watching for session events, Ctrl+C to stop")
			if err := feed.Start(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("event feed stopped: %w", err)
			}
			return nil
		}),
	}
}
