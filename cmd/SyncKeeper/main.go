package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/SyncKeeper/internal/auth"
	"github.com/BTreeMap/SyncKeeper/internal/config"
	"github.com/BTreeMap/SyncKeeper/internal/lockfile"
	"github.com/BTreeMap/SyncKeeper/internal/store"
)

// statusInterval is how often the daemon logs credential and queue status.
const statusInterval = time.Minute

// logLevel is adjusted after configuration loads.
var logLevel = new(slog.LevelVar)

func main() {
	initializeLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logLevel.Set(cfg.SlogLevel())

	flags := parseCommandLineFlags(cfg)

	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		if errors.Is(err, lockfile.ErrHeld) {
			slog.Error("SyncKeeper is already running", "error", err)
		} else {
			slog.Error("Failed to lock state directory", "error", err)
		}
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping SyncKeeper", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "")
	if err := run(cfg, flags); err != nil {
		slog.Error("SyncKeeper failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("SyncKeeper exited successfully")
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	tokenFile *string
}

// initializeLogger sets up structured logging on stdout
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg *config.Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", cfg.StateDir, "state directory for SyncKeeper data (overrides $SYNCKEEPER_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", cfg.Store.DSN, "task store DSN, SQLite path or Postgres URL (overrides $SYNCKEEPER_STORE_DSN)"),
		tokenFile: flag.String("token-file", cfg.Auth.TokenFile, "file holding the current access token (overrides $SYNCKEEPER_AUTH_TOKEN_FILE)"),
	}
	flag.Parse()

	// Keep the SQLite default inside whichever state directory was chosen.
	if *flags.dbDSN == "" {
		cfg.StateDir = *flags.stateDir
		*flags.dbDSN = cfg.StoreDSN()
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_type", store.DetectDSNType(*flags.dbDSN),
		"tokenFile_set", *flags.tokenFile != "")
	return flags
}

// buildAuthOptions constructs credential manager options
func buildAuthOptions(cfg *config.Config) []auth.Option {
	opts := []auth.Option{
		auth.WithRateLimitWindow(cfg.Auth.RateLimitWindow),
		auth.WithRefreshWindow(cfg.Auth.RefreshWindow),
	}
	if cfg.Auth.ProviderTimeout > 0 {
		opts = append(opts, auth.WithProviderTimeout(cfg.Auth.ProviderTimeout))
	}
	return opts
}

// run opens the task store, starts the credential manager and blocks until a
// termination signal. SIGHUP re-reads the token file.
func run(cfg *config.Config, flags Flags) error {
	tasks, err := store.Open(store.WithDSN(*flags.dbDSN))
	if err != nil {
		// An unavailable store degrades every call to a no-op; keep serving credentials.
		slog.Warn("Task store unavailable, continuing without durable tasks", "error", err)
	}
	defer tasks.Close()

	var provider auth.TokenProvider
	if *flags.tokenFile != "" {
		provider = auth.NewFileTokenProvider(*flags.tokenFile)
	} else {
		slog.Warn("No token file configured, credential refresh is disabled")
	}
	creds := auth.NewManager(provider, buildAuthOptions(cfg)...)
	defer creds.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// The provider call blocks; keep it off the signal loop.
	go creds.RequestRefresh(ctx)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received")
			return nil
		case <-hup:
			slog.Info("SIGHUP received, requesting token refresh")
			go refreshOnHangup(ctx, creds)
		case <-ticker.C:
			logStatus(creds, tasks)
		}
	}
}

// refreshOnHangup re-requests a token on operator demand. A refresh left
// pending by an unchanged token would make the request a no-op, so it is
// released first.
func refreshOnHangup(ctx context.Context, creds *auth.Manager) {
	if creds.ReleasePending() {
		slog.Warn("Released stuck token refresh before re-requesting")
	}
	creds.ResetFailureCount()
	creds.RequestRefresh(ctx)
}

func logStatus(creds *auth.Manager, tasks store.TaskRepo) {
	next, scheduled := creds.NextRefresh()
	slog.Info("status",
		"auth_state", creds.State(),
		"failed_requests", creds.FailedRequestCount(),
		"next_refresh_scheduled", scheduled,
		"next_refresh", next,
		"tasks", tasks.Count())
}
