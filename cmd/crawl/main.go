// Command crawl is a runnable demonstration of the engine: it wires an
// HTTPTransport, retry controller, disk (and optionally Postgres/Supabase)
// storage sinks, stats tracker, and notifications together behind
// internal/engine.Engine, then runs an examples.LinkSpider against a single
// seed URL given on the command line.
//
// Grounded on cmd/app/main.go's setup-then-run shape, minus the HTTP server
// (this binary's job ends when the crawl finishes, not when a signal
// arrives).
package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/kestrelcrawl/kestrel/internal/engine"
	"github.com/kestrelcrawl/kestrel/internal/engineconfig"
	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/notifications"
	"github.com/kestrelcrawl/kestrel/internal/spider/examples"
	"github.com/kestrelcrawl/kestrel/internal/stats"
	"github.com/kestrelcrawl/kestrel/internal/storage"
	"github.com/kestrelcrawl/kestrel/internal/techdetect"
	"github.com/kestrelcrawl/kestrel/internal/telemetry"
	"github.com/kestrelcrawl/kestrel/internal/transport"
)

func main() {
	cfg := engineconfig.Load()
	engineconfig.SetupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	startURL := os.Getenv("CRAWL_START_URL")
	if len(os.Args) > 1 {
		startURL = os.Args[1]
	}
	if startURL == "" {
		log.Fatal().Msg("usage: crawl <start-url> (or set CRAWL_START_URL)")
	}

	sinks := buildSinks(cfg)
	notifier := buildNotifier(cfg)

	detector, err := techdetect.New()
	if err != nil {
		log.Warn().Err(err).Msg("tech detection disabled: failed to initialise wappalyzer")
		detector = nil
	}

	telProviders, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:      cfg.OTLPEndpoint != "",
		ServiceName:  "kestrel",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled: failed to initialise exporters")
	}
	if telProviders != nil {
		defer func() {
			if err := telProviders.Shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()
	}

	t := transport.NewHTTPTransport(cfg.UserAgent, cfg.RequestTimeout)
	eng := engine.New(t, sinks,
		engine.WithStats(stats.New()),
		engine.WithNotifier(notifier),
		engine.WithTechDetector(detector),
		engine.WithTelemetry(telProviders),
	)

	spiderCfg := model.DefaultSpiderConfig().
		WithConcurrency(cfg.MaxConcurrency).
		WithCategory(model.CategoryServerError, model.CategoryConfig{
			MaxRetries:    3,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffPolicy: model.ExponentialBackoff(2.0),
			Conditions: []model.RetryCondition{
				model.RequestRetryCondition(model.StatusCodeCondition(500)),
				model.RequestRetryCondition(model.StatusCodeCondition(502)),
				model.RequestRetryCondition(model.StatusCodeCondition(503)),
			},
		}).
		WithCategory(model.CategoryRateLimit, model.CategoryConfig{
			MaxRetries:    5,
			InitialDelay:  2 * time.Second,
			MaxDelay:      time.Minute,
			BackoffPolicy: model.ExponentialBackoff(2.0),
			Conditions: []model.RetryCondition{
				model.RequestRetryCondition(model.StatusCodeCondition(429)),
			},
		})
	spiderCfg.RateLimit = cfg.RateLimit

	sp, err := examples.NewLinkSpider("link-spider", startURL, *spiderCfg, sinks)
	if err != nil {
		log.Fatal().Err(err).Str("url", startURL).Msg("invalid start url")
	}

	if err := eng.Run(context.Background(), sp); err != nil {
		log.Fatal().Err(err).Msg("crawl failed")
	}
}

func buildSinks(cfg *engineconfig.Config) *storage.SinkSet {
	sinks := storage.NewSinkSet()

	disk, err := storage.NewDiskBackend(cfg.StorageDiskPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise disk storage backend")
	}
	if err := sinks.Register(model.DataCategory(), disk, "items"); err != nil {
		log.Fatal().Err(err).Msg("failed to register disk data sink")
	}
	if err := sinks.Register(model.ErrorCategory(), disk, "errors"); err != nil {
		log.Fatal().Err(err).Msg("failed to register disk error sink")
	}
	if err := sinks.Register(model.RawCategory(), disk, "raw"); err != nil {
		log.Fatal().Err(err).Msg("failed to register disk raw sink")
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to postgres, skipping postgres sink")
		} else if err := sinks.Register(model.CustomStorageCategory("postgres"), storage.NewPostgresBackend(pool), "crawl_items"); err != nil {
			log.Error().Err(err).Msg("failed to register postgres sink")
		}
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		remote := storage.NewRemoteBackend(cfg.SupabaseURL, cfg.SupabaseKey)
		if err := sinks.Register(model.CustomStorageCategory("remote"), remote, "crawl-artifacts/pages/"); err != nil {
			log.Error().Err(err).Msg("failed to register remote sink")
		}
	}

	return sinks
}

func buildNotifier(cfg *engineconfig.Config) *notifications.Service {
	service := notifications.NewService()
	if cfg.SlackToken == "" || cfg.SlackChannelID == "" {
		return service
	}

	channel, err := notifications.NewSlackChannel(cfg.SlackToken, cfg.SlackChannelID)
	if err != nil {
		log.Warn().Err(err).Msg("slack notifications disabled")
		return service
	}
	service.AddChannel(channel)
	return service
}
