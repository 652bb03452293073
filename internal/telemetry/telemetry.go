// Package telemetry wires up OpenTelemetry tracing and Prometheus-exported
// metrics for a crawl run. Grounded on internal/observability/observability.go's
// Init/Providers pair, trimmed of its HTTP-server-specific pieces
// (otelhttp.WrapHandler has nothing to wrap here) and re-pointed at the
// engine's own metrics: fetch duration/outcome, retries, concurrency, and
// per-domain throttle waits, in place of a generic worker/job/db-pool
// instrument set.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "kestrel/engine"
const meterName = "kestrel/engine"

// Config controls telemetry initialisation. Disabled by default so a plain
// `go run ./cmd/crawl` doesn't need an OTLP collector running anywhere.
type Config struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool
}

// Providers exposes what a caller needs: a tracer to pass into engine.Engine,
// an HTTP handler to optionally serve Prometheus scrapes from, and a shutdown
// func to flush/close everything on exit.
type Providers struct {
	Tracer         trace.Tracer
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
}

var initOnce sync.Once

var (
	fetchDuration     metric.Float64Histogram
	fetchTotal        metric.Int64Counter
	concurrentFetches metric.Int64UpDownCounter
	concurrencyLimit  metric.Int64Gauge
	retryTotal        metric.Int64Counter
	throttleWait      metric.Float64Histogram
	urlsVisited       metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false it
// returns (nil, nil) and callers should fall back to a bare otel.Tracer, as
// engine.New does when no telemetry.Providers is supplied.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "kestrel"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{endpointOption(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			// Telemetry is optional: a broken collector endpoint shouldn't
			// stop a crawl from running.
			fmt.Printf("WARN: telemetry: failed to create OTLP trace exporter, traces disabled: %v\n", err)
		} else {
			spanExporter = exp
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	var instrumentErr error
	initOnce.Do(func() {
		instrumentErr = initInstruments(meterProvider)
	})
	if instrumentErr != nil {
		return nil, fmt.Errorf("telemetry: init instruments: %w", instrumentErr)
	}

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		Tracer:         tracerProvider.Tracer(tracerName),
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
	}, nil
}

func endpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

func initInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}
	meter := meterProvider.Meter(meterName)

	var err error
	fetchDuration, err = meter.Float64Histogram(
		"kestrel.engine.fetch.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time taken to fetch and parse one request"),
	)
	if err != nil {
		return err
	}

	fetchTotal, err = meter.Int64Counter(
		"kestrel.engine.fetch.total",
		metric.WithDescription("Fetches processed, by outcome"),
	)
	if err != nil {
		return err
	}

	concurrentFetches, err = meter.Int64UpDownCounter(
		"kestrel.engine.fetch.in_flight",
		metric.WithDescription("Fetches currently executing"),
	)
	if err != nil {
		return err
	}

	concurrencyLimit, err = meter.Int64Gauge(
		"kestrel.engine.fetch.concurrency_limit",
		metric.WithDescription("Configured max concurrent fetches for the running spider"),
	)
	if err != nil {
		return err
	}

	retryTotal, err = meter.Int64Counter(
		"kestrel.engine.retry.total",
		metric.WithDescription("Retries scheduled, by category"),
	)
	if err != nil {
		return err
	}

	throttleWait, err = meter.Float64Histogram(
		"kestrel.engine.throttle.wait_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Time a fetch spent waiting on its domain's rate limiter"),
	)
	if err != nil {
		return err
	}

	urlsVisited, err = meter.Int64Counter(
		"kestrel.engine.urls_visited.total",
		metric.WithDescription("Distinct URLs admitted into the visited set"),
	)
	return err
}

// RecordFetch records one completed fetch-and-parse cycle.
func RecordFetch(ctx context.Context, spider, outcome string, duration time.Duration) {
	if fetchDuration != nil {
		fetchDuration.Record(ctx, float64(duration.Milliseconds()),
			metric.WithAttributes(attribute.String("spider", spider), attribute.String("outcome", outcome)))
	}
	if fetchTotal != nil {
		fetchTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("spider", spider), attribute.String("outcome", outcome)))
	}
}

// RecordFetchStart/RecordFetchEnd bracket one in-flight fetch.
func RecordFetchStart(ctx context.Context, limit int64) {
	if concurrentFetches != nil {
		concurrentFetches.Add(ctx, 1)
	}
	if limit > 0 && concurrencyLimit != nil {
		concurrencyLimit.Record(ctx, limit)
	}
}

func RecordFetchEnd(ctx context.Context) {
	if concurrentFetches != nil {
		concurrentFetches.Add(ctx, -1)
	}
}

// RecordRetry records a retry being scheduled for the given category.
func RecordRetry(ctx context.Context, spider, category string) {
	if retryTotal != nil {
		retryTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("spider", spider), attribute.String("category", category)))
	}
}

// RecordThrottleWait records time spent waiting on a domain's rate limiter.
func RecordThrottleWait(ctx context.Context, host string, wait time.Duration) {
	if throttleWait != nil {
		throttleWait.Record(ctx, float64(wait.Milliseconds()),
			metric.WithAttributes(attribute.String("host", host)))
	}
}

// RecordURLVisited records a URL being admitted into a run's visited set.
func RecordURLVisited(ctx context.Context, spider string) {
	if urlsVisited != nil {
		urlsVisited.Add(ctx, 1, metric.WithAttributes(attribute.String("spider", spider)))
	}
}
