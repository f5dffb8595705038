// Command ttvattendance tracks chat attendance for one Twitch channel.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Verifies stored attendance history (corrupt history is fatal).
//   - Starts the poll loop: token refresh, liveness check, roster fold,
//     leaderboard rebuild.
//   - Exposes a minimal HTTP server with /healthz, /status, /metrics, and the
//     leaderboard API.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Tigermouthbear/ttvattendance/attendance"
	"github.com/Tigermouthbear/ttvattendance/config"
	"github.com/Tigermouthbear/ttvattendance/db"
	"github.com/Tigermouthbear/ttvattendance/server"
	"github.com/Tigermouthbear/ttvattendance/telemetry"
	"github.com/Tigermouthbear/ttvattendance/tracker"
	"github.com/Tigermouthbear/ttvattendance/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTrackerReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("ttvattendance", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Migrations: versioned files first, embedded SQL as fallback for
	// deployments that ship without the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	migrationCtx := context.Background()
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(migrationCtx, database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Corrupt attendance history must stop the process; resetting it silently
	// would throw away viewers' records.
	if err := db.VerifyAttendance(migrationCtx, database, cfg.TwitchChannel); err != nil {
		slog.Error("attendance verification failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		Store:        &db.AppTokenStore{DB: database},
	}
	gateway := &twitchapi.Gateway{
		Channel: cfg.TwitchChannel,
		Helix: &twitchapi.HelixClient{
			AppTokenSource: tokens,
			ClientID:       cfg.TwitchClientID,
		},
		Chatters: &twitchapi.ChattersClient{},
	}
	store := attendance.NewStore(database, cfg.TwitchChannel, cfg.PollInterval)
	projector := attendance.NewProjector()

	trk := &tracker.Tracker{
		Channel:    cfg.TwitchChannel,
		Gateway:    gateway,
		Tokens:     tokens,
		Store:      store,
		Projector:  projector,
		KV:         database,
		Interval:   cfg.PollInterval,
		Zone:       cfg.StreamZone,
		MinPresent: cfg.MinPresent,
		PageSize:   cfg.PageSize,
		BatchSize:  cfg.BatchSize,
	}
	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		_ = trk.Run(ctx)
	}()

	// HTTP server (health/status/metrics/leaderboard)
	handlers := server.NewHandlers(database, cfg.TwitchChannel, projector, store)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal, then wait for the loop and server so no
	// write is left half-applied.
	<-ctx.Done()
	slog.Info("shutting down")
	<-trackerDone
	<-serverDone
}
