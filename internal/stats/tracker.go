// Package stats implements the crawl-wide stats tracker: atomic-ish,
// lock-guarded counters for request/retry outcomes, a human-readable
// summary, and an optional set of OpenTelemetry instruments mirroring the
// counters for external scraping.
//
// Grounded on original_source/src/stats/mod.rs's ScrapingStats/StatsTracker
// and on internal/observability/observability.go's meter-registration style.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rs/zerolog/log"
)

// Snapshot is a point-in-time, read-only copy of the tracker's state.
type Snapshot struct {
	StartTime            time.Time
	EndTime               time.Time
	TotalRequests         int
	SuccessfulRequests    int
	FailedRequests        int
	RetryCount            int
	BytesDownloaded       int64
	StatusCodes           map[uint16]int
	RetryReasons          map[string]int
	AverageResponseTimeMs float64

	StorageErrors   int
	ParseErrors     int
	UnhandledErrors int
}

// Tracker accumulates crawl statistics under a single RWMutex, matching the
// single-struct-behind-one-lock shape of the original StatsTracker.
type Tracker struct {
	mu sync.RWMutex

	startTime time.Time
	endTime   time.Time

	totalRequests      int
	successfulRequests int
	failedRequests     int
	retryCount         int
	bytesDownloaded    int64

	storageErrors   int
	parseErrors     int
	unhandledErrors int

	statusCodes  map[uint16]int
	retryReasons map[string]int

	averageResponseTimeMs float64

	instruments *instruments
}

// instruments holds the optional OpenTelemetry counters/histogram that
// mirror the in-memory snapshot for external scraping. A nil *instruments
// (via NewWithMeter(nil)) makes every recorder call a no-op, so Tracker
// works the same with or without a meter provider attached.
type instruments struct {
	requestsTotal  metric.Int64Counter
	bytesTotal     metric.Int64Counter
	responseTime   metric.Float64Histogram
	retriesTotal   metric.Int64Counter
}

// New builds a Tracker with no OpenTelemetry instruments attached.
func New() *Tracker {
	return NewWithMeter(nil)
}

// NewWithMeter builds a Tracker whose recorder methods additionally feed a
// meter's counters/histogram. meter may be nil.
func NewWithMeter(meter metric.Meter) *Tracker {
	t := &Tracker{
		startTime:    time.Now(),
		statusCodes:  make(map[uint16]int),
		retryReasons: make(map[string]int),
	}
	if meter != nil {
		t.instruments = buildInstruments(meter)
	}
	return t
}

func buildInstruments(meter metric.Meter) *instruments {
	inst := &instruments{}

	var err error
	inst.requestsTotal, err = meter.Int64Counter(
		"kestrel.crawl.requests.total",
		metric.WithDescription("Count of fetch attempts by outcome"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("stats: failed to register requests.total counter")
	}

	inst.bytesTotal, err = meter.Int64Counter(
		"kestrel.crawl.bytes.total",
		metric.WithUnit("By"),
		metric.WithDescription("Cumulative bytes downloaded"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("stats: failed to register bytes.total counter")
	}

	inst.responseTime, err = meter.Float64Histogram(
		"kestrel.crawl.response_time_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Fetch response time"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("stats: failed to register response_time_ms histogram")
	}

	inst.retriesTotal, err = meter.Int64Counter(
		"kestrel.crawl.retries.total",
		metric.WithDescription("Count of retries issued, by category"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("stats: failed to register retries.total counter")
	}

	return inst
}

// RecordRequest records one completed fetch attempt: a request only counts
// as successful when it returned a non-error status AND its body was
// successfully parsed, so callers must wait until parsing has run (and pass
// its outcome as parseOK) before recording — a 200 that failed to parse is a
// failure, not a success. The running average response time is updated
// incrementally (the same total-then-divide approach as the original
// tracker), and bytes downloaded accumulate regardless of outcome.
func (t *Tracker) RecordRequest(ctx context.Context, status uint16, bytes int64, duration time.Duration, parseOK bool) {
	success := status < 400 && parseOK

	t.mu.Lock()
	t.totalRequests++
	if success {
		t.successfulRequests++
	} else {
		t.failedRequests++
	}
	t.statusCodes[status]++
	t.bytesDownloaded += bytes

	ms := float64(duration.Microseconds()) / 1000.0
	currentTotal := t.averageResponseTimeMs * float64(t.totalRequests-1)
	t.averageResponseTimeMs = (currentTotal + ms) / float64(t.totalRequests)
	t.mu.Unlock()

	if t.instruments == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	if t.instruments.requestsTotal != nil {
		t.instruments.requestsTotal.Add(ctx, 1,
			metric.WithAttributes(statusAttr(status), outcomeAttr(outcome)))
	}
	if t.instruments.bytesTotal != nil {
		t.instruments.bytesTotal.Add(ctx, bytes)
	}
	if t.instruments.responseTime != nil {
		t.instruments.responseTime.Record(ctx, ms)
	}
}

// RecordRetry records one retry decision under the given category name.
func (t *Tracker) RecordRetry(ctx context.Context, category string) {
	t.mu.Lock()
	t.retryCount++
	t.retryReasons[category]++
	t.mu.Unlock()

	if t.instruments != nil && t.instruments.retriesTotal != nil {
		t.instruments.retriesTotal.Add(ctx, 1, metric.WithAttributes(categoryAttr(category)))
	}
}

// RecordStorageError counts one failure classified as a storage error
// (persisting extracted data or an error item failed).
func (t *Tracker) RecordStorageError() {
	t.mu.Lock()
	t.storageErrors++
	t.mu.Unlock()
}

// RecordParseError counts one failure classified as a parse error (the
// spider's own response handling returned an error).
func (t *Tracker) RecordParseError() {
	t.mu.Lock()
	t.parseErrors++
	t.mu.Unlock()
}

// RecordUnhandledError counts one failure of a kind the engine has no retry
// or escalation path for (raw transport failures that escaped the retry
// loop, cancelled contexts).
func (t *Tracker) RecordUnhandledError() {
	t.mu.Lock()
	t.unhandledErrors++
	t.mu.Unlock()
}

// Finish stamps the end time once crawling completes. Calling it more than
// once simply overwrites the stamp.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endTime = time.Now()
}

// Get returns a deep-copied snapshot safe for the caller to read or print
// without holding the tracker's lock.
func (t *Tracker) Get() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	statusCodes := make(map[uint16]int, len(t.statusCodes))
	for k, v := range t.statusCodes {
		statusCodes[k] = v
	}
	retryReasons := make(map[string]int, len(t.retryReasons))
	for k, v := range t.retryReasons {
		retryReasons[k] = v
	}

	return Snapshot{
		StartTime:             t.startTime,
		EndTime:                t.endTime,
		TotalRequests:          t.totalRequests,
		SuccessfulRequests:     t.successfulRequests,
		FailedRequests:         t.failedRequests,
		RetryCount:             t.retryCount,
		BytesDownloaded:        t.bytesDownloaded,
		StatusCodes:            statusCodes,
		RetryReasons:           retryReasons,
		AverageResponseTimeMs:  t.averageResponseTimeMs,
		StorageErrors:          t.storageErrors,
		ParseErrors:            t.parseErrors,
		UnhandledErrors:        t.unhandledErrors,
	}
}

// PrintSummary logs a human-readable crawl summary, mirroring the original
// tracker's console report but through a structured logger instead of
// println.
func (t *Tracker) PrintSummary() {
	s := t.Get()
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(s.StartTime)

	ev := log.Info().
		Dur("duration", duration).
		Int("total_requests", s.TotalRequests).
		Int("successful_requests", s.SuccessfulRequests).
		Int("failed_requests", s.FailedRequests).
		Int("retry_count", s.RetryCount).
		Str("data_downloaded", fmt.Sprintf("%.2f MB", float64(s.BytesDownloaded)/1_000_000.0)).
		Str("average_response_time", fmt.Sprintf("%.2fms", s.AverageResponseTimeMs)).
		Int("storage_errors", s.StorageErrors).
		Int("parse_errors", s.ParseErrors).
		Int("unhandled_errors", s.UnhandledErrors)

	for code, count := range s.StatusCodes {
		ev = ev.Int(fmt.Sprintf("status_%d", code), count)
	}
	for reason, count := range s.RetryReasons {
		ev = ev.Int("retry_"+reason, count)
	}
	ev.Msg("crawl statistics")
}

func statusAttr(status uint16) attribute.KeyValue {
	return attribute.Int("status_code", int(status))
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String("outcome", outcome)
}

func categoryAttr(category string) attribute.KeyValue {
	return attribute.String("category", category)
}
