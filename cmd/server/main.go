package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/plyoox/notificator/internal/adapter/bot"
	"github.com/plyoox/notificator/internal/adapter/httpserver"
	"github.com/plyoox/notificator/internal/adapter/memory"
	"github.com/plyoox/notificator/internal/adapter/metrics"
	"github.com/plyoox/notificator/internal/adapter/postgres"
	"github.com/plyoox/notificator/internal/adapter/redis"
	"github.com/plyoox/notificator/internal/adapter/twitch"
	"github.com/plyoox/notificator/internal/app"
	"github.com/plyoox/notificator/internal/domain"
	"github.com/plyoox/notificator/internal/platform/config"
	"github.com/plyoox/notificator/internal/platform/logging"
	"github.com/plyoox/notificator/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 15 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.StorageMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.Postgres, postgres.NewMetricsTracer(m))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// setupRedis returns nil when no REDIS_URL is configured.
func setupRedis(cfg *config.Config, m *metrics.StorageMetrics) *goredis.Client {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, using in-process message dedupe and no sweep leader election")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// warmAppToken fails startup on bad Twitch credentials instead of on the
// first registration.
func warmAppToken(client *twitch.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if _, err := client.Tokens().Token(ctx); err != nil {
		slog.Error("Failed to obtain Twitch app access token", "error", err)
		os.Exit(1)
	}
}

func healthChecks(pool *pgxpool.Pool, redisClient *goredis.Client) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{{Name: "postgres", Check: pool.Ping}}
	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, stopSweeper context.CancelFunc, dispatcher *app.Dispatcher) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopSweeper()

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		if err := dispatcher.Wait(drainCtx); err != nil {
			slog.Warn("Abandoned in-flight deliveries", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	registry := metrics.NewRegistry()
	storageMetrics := metrics.NewStorageMetrics(registry)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	pool := setupDB(cfg, storageMetrics)
	defer pool.Close()

	redisClient := setupRedis(cfg, storageMetrics)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Pass nil explicitly to avoid a typed-nil interface
	var dedupe domain.MessageDeduplicator
	var leader app.Leader
	if redisClient != nil {
		dedupe = redis.NewMessageDedupe(redisClient)
		leader = redis.NewLeaderElector(redisClient)
	} else {
		dedupe = memory.NewMessageDedupe(redis.MessageRetention)
	}

	twitchClient := twitch.NewClient(twitch.Config{
		ClientID:       cfg.TwitchClientID,
		ClientSecret:   cfg.TwitchClientSecret,
		RedirectURL:    cfg.TwitchRedirectURL,
		CallbackURL:    cfg.TwitchCallbackURL,
		EventSubSecret: cfg.TwitchEventSubSecret,
	}, &http.Client{Timeout: cfg.TwitchHTTPTimeout}, clock, metrics.NewTwitchMetrics(registry))
	warmAppToken(twitchClient)

	notifier, err := bot.NewNotifier(cfg.BotURL, cfg.BotHTTPTimeout, webhookMetrics)
	if err != nil {
		slog.Error("Failed to create bot notifier", "error", err)
		os.Exit(1)
	}

	repo := postgres.NewRegistryRepo(pool)
	service := app.NewService(repo, twitchClient, metrics.NewSubscriptionMetrics(registry))
	dispatcher := app.NewDispatcher(twitchClient, repo, notifier, service)
	webhookHandler := twitch.NewWebhookHandler(cfg.TwitchEventSubSecret, dispatcher, dedupe, webhookMetrics)

	sweeper := app.NewSweeper(service, leader, clock, cfg.OrphanSweepInterval)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	srv := httpserver.NewServer(
		cfg,
		service,
		twitch.NewAuthorizer(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURL),
		webhookHandler,
		metrics.Handler(registry),
		metrics.NewHTTPMetrics(registry),
		healthChecks(pool, redisClient),
	)

	done := runGracefulShutdown(srv, stopSweeper, dispatcher)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
