// Package engineconfig loads the environment-driven configuration a
// cmd/crawl-style binary needs to assemble an engine.Engine: log setup,
// Sentry DSN, storage destinations, and the Postgres DSN for
// storage.PostgresBackend. Grounded on cmd/app/main.go's Config struct and
// getEnvWithDefault/setupLogging pair — generalised from one HTTP service's
// fixed env vars into a small typed loader a crawl program can reuse.
package engineconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is every environment-sourced setting an engine binary needs.
type Config struct {
	Env      string // development | production
	LogLevel string

	SentryDSN    string
	OTLPEndpoint string

	UserAgent      string
	RequestTimeout time.Duration
	MaxConcurrency int
	RateLimit      float64

	StorageDiskPath string
	PostgresDSN     string
	SupabaseURL     string
	SupabaseKey     string
	SlackToken      string
	SlackChannelID  string
}

// Load reads .env (if present, silently ignored if missing — matching
// godotenv.Load's own default behaviour) then builds a Config from the
// environment, applying the same conservative defaults DefaultSpiderConfig
// and DefaultCategoryConfig use elsewhere.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("engineconfig: failed to load .env file")
	}

	return &Config{
		Env:      getEnvWithDefault("APP_ENV", "development"),
		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),

		SentryDSN:    os.Getenv("SENTRY_DSN"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		UserAgent:      getEnvWithDefault("CRAWL_USER_AGENT", "kestrel/1.0"),
		RequestTimeout: getEnvDuration("CRAWL_REQUEST_TIMEOUT", 30*time.Second),
		MaxConcurrency: getEnvInt("CRAWL_MAX_CONCURRENCY", 10),
		RateLimit:      getEnvFloat("CRAWL_RATE_LIMIT", 0),

		StorageDiskPath: getEnvWithDefault("STORAGE_DISK_PATH", "./data"),
		PostgresDSN:     os.Getenv("DATABASE_URL"),
		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseKey:     os.Getenv("SUPABASE_SERVICE_KEY"),
		SlackToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:  os.Getenv("SLACK_CHANNEL_ID"),
	}
}

// SetupLogging configures zerolog's global level and writer, using a
// human-readable console format in development and structured JSON in
// production.
func SetupLogging(cfg *Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}

	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "kestrel").
		Logger()
}

func getEnvWithDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("engineconfig: invalid duration, using default")
		return defaultValue
	}
	return d
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("engineconfig: invalid int, using default")
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("engineconfig: invalid float, using default")
		return defaultValue
	}
	return f
}

// Validate reports the first missing setting required to actually run a
// crawl, letting cmd/crawl fail fast with a clear message rather than a
// nil-pointer panic deep inside a backend constructor.
func (c *Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("engineconfig: CRAWL_USER_AGENT must not be empty")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("engineconfig: CRAWL_MAX_CONCURRENCY must be positive")
	}
	return nil
}
