// Package engine implements the crawl loop: bounded concurrent dispatch of
// requests, routing of each fetched response through the five-way
// ParseResult protocol, and error-kind-driven retry/storage decisions.
//
// Grounded directly on original_source/src/core/crawling/crawler.rs's
// Crawler (run/process_requests/process_request/handle_same_content_retry/
// check_and_process_retry), reworked from its single-threaded
// FuturesUnordered drain loop into goroutine-per-task dispatch bounded by a
// golang.org/x/sync/semaphore.Weighted, with a channel fan-in replacing
// FuturesUnordered::next() as the point where the main loop learns a task
// finished.
package engine

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrelcrawl/kestrel/internal/notifications"
	"github.com/kestrelcrawl/kestrel/internal/spider"
	"github.com/kestrelcrawl/kestrel/internal/stats"
	"github.com/kestrelcrawl/kestrel/internal/storage"
	"github.com/kestrelcrawl/kestrel/internal/techdetect"
	"github.com/kestrelcrawl/kestrel/internal/telemetry"
	"github.com/kestrelcrawl/kestrel/internal/transport"
)

const tracerName = "kestrel/engine"

// Engine is the long-lived driver a program builds once and runs spiders
// through. Most of its fields are optional ambient integrations (stats,
// notifications, tech detection); only transport and sinks are required.
type Engine struct {
	transport    transport.Transport
	sinks        *storage.SinkSet
	stats        *stats.Tracker
	notifier     *notifications.Service
	techdetector *techdetect.Detector
	tracer       trace.Tracer
	sentryHub    *sentry.Hub
}

// Option configures optional Engine integrations.
type Option func(*Engine)

func WithStats(s *stats.Tracker) Option {
	return func(e *Engine) { e.stats = s }
}

func WithNotifier(n *notifications.Service) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithTechDetector(d *techdetect.Detector) Option {
	return func(e *Engine) { e.techdetector = d }
}

// WithSentry attaches the Sentry hub that panics recovered inside task
// goroutines are reported to; without it they go to sentry.CurrentHub().
func WithSentry(hub *sentry.Hub) Option {
	return func(e *Engine) { e.sentryHub = hub }
}

// WithTelemetry makes the engine start its spans on the tracer of a
// telemetry.Providers built by telemetry.Init, in place of the global otel
// tracer New uses by default. Metrics go through telemetry's package-level
// instruments whether or not this option is set.
func WithTelemetry(p *telemetry.Providers) Option {
	return func(e *Engine) {
		if p == nil {
			return
		}
		e.tracer = p.Tracer
	}
}

// New builds an Engine. t is cloned once per spider run via t.BoxClone so
// concurrent runs never share mutable transport state; every fetch within
// one run, retries included, uses that run's clone.
func New(t transport.Transport, sinks *storage.SinkSet, opts ...Option) *Engine {
	e := &Engine{
		transport: t,
		sinks:     sinks,
		stats:     stats.New(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sinks returns the storage sink set passed to New, so a spider built
// alongside an Engine can wire its own StoreData method to the same sinks
// without needing a second reference threaded through.
func (e *Engine) Sinks() *storage.SinkSet { return e.sinks }

// Stats returns the tracker the engine feeds on every fetch, for callers
// that want to log or export results after a Run.
func (e *Engine) Stats() *stats.Tracker { return e.stats }

// Run drives sp to completion: seeds its start requests, dispatches fetches
// at up to sp.Config().MaxConcurrency in flight, and routes every outcome
// through the five-way ParseResult protocol until the work drains or the
// spider requests a stop.
func (e *Engine) Run(ctx context.Context, sp spider.Spider) error {
	cfg := sp.Config()
	log.Info().Str("spider", sp.Name()).Int("max_depth", cfg.MaxDepth).Msg("starting spider")

	t := e.transport.BoxClone()
	t.SetStats(e.stats)

	r := newRun(ctx, e, sp, t, cfg)
	r.execute(ctx)

	e.stats.Finish()
	e.stats.PrintSummary()

	if e.notifier != nil {
		e.notifier.Emit(ctx, notifications.Event{
			Kind:    notifications.EventSpiderCompleted,
			Spider:  sp.Name(),
			Summary: "crawl finished",
		})
	}

	log.Info().Str("spider", sp.Name()).Int("urls_visited", r.visitedCount()).Msg("spider completed")
	return nil
}
