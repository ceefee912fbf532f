package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrel-auth/kestrel/internal/auth"
	"github.com/kestrel-auth/kestrel/internal/credstore"
	"github.com/kestrel-auth/kestrel/internal/gateway/gotrue"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/config"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/database"
	"github.com/kestrel-auth/kestrel/internal/infrastructure/logging"
	"github.com/kestrel-auth/kestrel/internal/notify"
	"github.com/kestrel-auth/kestrel/internal/route"
	"github.com/kestrel-auth/kestrel/internal/session"
	"github.com/kestrel-auth/kestrel/internal/telemetry"
	"github.com/kestrel-auth/kestrel/internal/transport"
)

// defaultConfigPath is used when neither --config nor KESTREL_CONFIG
// is set.
const defaultConfigPath = "configs/config.yaml"

// app holds the wired component graph for one command invocation.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	db        *database.DB
	creds     credstore.Store
	state     *session.Store
	gw        *gotrue.Client
	svc       *auth.Service
	nav       *route.Navigator
	router    *route.Router
	routeGate *route.Guard
	guard     *transport.Guard
	metrics   *telemetry.Reporter
	notify    *notify.Reporter
}

// newApp builds the full component graph and bootstraps auth state.
// Wiring order matters: storage before session state, session state
// before the orchestrator, the orchestrator before the request guard.
func newApp(ctx context.Context, configPath string) (*app, error) {
	log := logging.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings.
	log = logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", configPath)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Storage.Path,
		WALMode:     cfg.Storage.WALMode,
		BusyTimeout: cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening credential storage: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	creds := credstore.NewSQLiteStore(db.DB)
	state := session.New(creds, log)
	gw := gotrue.New(cfg.Provider, creds, log)

	// Telemetry is optional; a dead backend must not block sign-in.
	var metrics *telemetry.Reporter
	if cfg.Telemetry.Enabled {
		metrics, err = telemetry.Connect(cfg.Telemetry, log)
		if err != nil && !errors.Is(err, telemetry.ErrDisabled) {
			log.Warn("telemetry unavailable, continuing without", "error", err)
			metrics = nil
		}
	}

	nav := route.NewNavigator(cfg.Routes.SignIn, log)
	routeGuard := route.NewGuard(state, cfg.Routes)
	router := route.NewRouter(routeGuard, nav)
	router.Register(cfg.Routes.SignIn, route.AccessGuest)
	router.Register(cfg.Routes.Dashboard, route.AccessProtected)
	router.Register(cfg.Routes.VerifyEmail, route.AccessPublic)
	router.Register(cfg.Routes.ForgotPassword, route.AccessPublic)

	var recorder auth.Recorder
	if metrics != nil {
		recorder = metrics
	}
	svc := auth.New(gw, state, nav, cfg.Routes, recorder, log)
	guard := transport.NewGuard(nil, state, svc, log)

	reporter := notify.NewReporter(notify.SinkFunc(func(m string) {
		fmt.Fprintln(os.Stderr, m) //nolint:errcheck // Best effort user message
	}), log)

	a := &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		creds:     creds,
		state:     state,
		gw:        gw,
		svc:       svc,
		nav:       nav,
		router:    router,
		routeGate: routeGuard,
		guard:     guard,
		metrics:   metrics,
		notify:    reporter,
	}

	// Bootstrap: hydrate from storage, validate with the provider.
	a.svc.Init(ctx)

	if cfg.Provider.AutoRefresh {
		gw.StartAutoRefresh(ctx)
	}

	return a, nil
}

// Close releases resources in reverse wiring order.
func (a *app) Close() {
	if a.metrics != nil {
		a.metrics.Close() //nolint:errcheck // Shutdown path
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("closing credential storage", "error", err)
		}
	}
}

// runWithApp wraps a command body with app construction and teardown.
func runWithApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config") //nolint:errcheck // Flag is registered on the root
		if configPath == "" {
			configPath = os.Getenv("KESTREL_CONFIG")
		}
		if configPath == "" {
			configPath = defaultConfigPath
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := fn(ctx, a, cmd, args); err != nil {
			a.notify.Report(err)
			return err
		}
		return nil
	}
}

// newRootCommand assembles the CLI.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "kestrel",
		Short: "Session and auth client for hosted identity providers",
		Long: `Kestrel keeps an authenticated session with a GoTrue-compatible
identity provider: sign in once, and it stores the session locally,
rotates tokens before expiry, and retries API requests that fail on
an expired token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to config file (default "+defaultConfigPath+")")

	root.AddCommand(
		newLoginCommand(),
		newRegisterCommand(),
		newLogoutCommand(),
		newResetPasswordCommand(),
		newUpdatePasswordCommand(),
		newStatusCommand(),
		newCallCommand(),
		newWatchCommand(),
		newVersionCommand(),
	)

	return root
}

// newVersionCommand reports build information.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
