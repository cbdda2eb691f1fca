package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" default:"development"`
	Port     string `env:"PORT" default:"3000"`
	Postgres string `env:"POSTGRES_DSN"`
	RedisURL string `env:"REDIS_URL"`

	TwitchClientID       string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret   string `env:"TWITCH_CLIENT_SECRET"`
	TwitchEventSubSecret string `env:"TWITCH_EVENTSUB_SECRET"`
	TwitchCallbackURL    string `env:"TWITCH_CALLBACK_URL"`
	TwitchRedirectURL    string `env:"TWITCH_REDIRECT_URL"`
	BotURL               string `env:"BOT_URL"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	TwitchHTTPTimeout   time.Duration `env:"TWITCH_HTTP_TIMEOUT" default:"10s"`
	BotHTTPTimeout      time.Duration `env:"BOT_HTTP_TIMEOUT" default:"5s"`
	OrphanSweepInterval time.Duration `env:"ORPHAN_SWEEP_INTERVAL" default:"15m"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"5"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"POSTGRES_DSN", cfg.Postgres},
		{"TWITCH_CLIENT_ID", cfg.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", cfg.TwitchClientSecret},
		{"TWITCH_EVENTSUB_SECRET", cfg.TwitchEventSubSecret},
		{"TWITCH_CALLBACK_URL", cfg.TwitchCallbackURL},
		{"TWITCH_REDIRECT_URL", cfg.TwitchRedirectURL},
		{"BOT_URL", cfg.BotURL},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	// Twitch rejects subscription secrets outside this range.
	if len(cfg.TwitchEventSubSecret) < 10 || len(cfg.TwitchEventSubSecret) > 100 {
		return errors.New("TWITCH_EVENTSUB_SECRET must be between 10 and 100 characters")
	}

	callback, err := url.Parse(cfg.TwitchCallbackURL)
	if err != nil {
		return fmt.Errorf("TWITCH_CALLBACK_URL is not a valid URL: %w", err)
	}
	if !strings.EqualFold(callback.Scheme, "https") {
		return errors.New("TWITCH_CALLBACK_URL must use https")
	}

	bot, err := url.Parse(cfg.BotURL)
	if err != nil || bot.Scheme == "" || bot.Host == "" {
		return errors.New("BOT_URL must be an absolute URL")
	}

	if cfg.TwitchHTTPTimeout <= 0 {
		return errors.New("TWITCH_HTTP_TIMEOUT must be positive")
	}
	if cfg.BotHTTPTimeout <= 0 {
		return errors.New("BOT_HTTP_TIMEOUT must be positive")
	}
	if cfg.OrphanSweepInterval < 0 {
		return errors.New("ORPHAN_SWEEP_INTERVAL must not be negative")
	}

	return nil
}
