// Command sweep runs one orphan sweep pass against the configured database
// and Twitch application, then exits.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/adapter/postgres"
	"github.com/plyoox/notificator/internal/adapter/twitch"
	"github.com/plyoox/notificator/internal/app"
	"github.com/plyoox/notificator/internal/platform/config"
	"github.com/plyoox/notificator/internal/platform/correlation"
	"github.com/plyoox/notificator/internal/platform/logging"
)

const sweepTimeout = 5 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dryRun  = flag.Bool("dry-run", false, "Report what would change without touching Twitch or the database")
		verbose = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(correlation.WithID(context.Background(), correlation.NewID()), sweepTimeout)
	defer cancel()

	// The registry is never scraped; it only satisfies the instrumented adapters.
	registry := metrics.NewRegistry()

	pool, err := postgres.Connect(ctx, cfg.Postgres, postgres.NewMetricsTracer(metrics.NewStorageMetrics(registry)))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer pool.Close()

	twitchClient := twitch.NewClient(twitch.Config{
		ClientID:       cfg.TwitchClientID,
		ClientSecret:   cfg.TwitchClientSecret,
		RedirectURL:    cfg.TwitchRedirectURL,
		CallbackURL:    cfg.TwitchCallbackURL,
		EventSubSecret: cfg.TwitchEventSubSecret,
	}, &http.Client{Timeout: cfg.TwitchHTTPTimeout}, clockwork.NewRealClock(), metrics.NewTwitchMetrics(registry))

	service := app.NewService(postgres.NewRegistryRepo(pool), twitchClient, metrics.NewSubscriptionMetrics(registry))
	sweeper := app.NewSweeper(service, nil, clockwork.NewRealClock(), 0)

	start := time.Now()
	report, err := sweeper.SweepOnce(ctx, *dryRun)
	if err != nil {
		slog.ErrorContext(ctx, "Sweep failed", "error", err)
		return 1
	}

	slog.InfoContext(ctx, "Sweep summary",
		"dry_run", *dryRun,
		"remote", report.Remote,
		"deleted", report.Deleted,
		"repaired", report.Repaired,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	if report.Failed > 0 {
		return 2
	}
	return 0
}
