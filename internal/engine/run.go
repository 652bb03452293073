package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelcrawl/kestrel/internal/cache"
	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/notifications"
	"github.com/kestrelcrawl/kestrel/internal/retry"
	"github.com/kestrelcrawl/kestrel/internal/spider"
	"github.com/kestrelcrawl/kestrel/internal/telemetry"
	"github.com/kestrelcrawl/kestrel/internal/transport"
)

// outcome is what a single task goroutine reports back to the draining
// loop: either a completed ParseResult or a classified TaskError, mirroring
// crawler.rs's per-request ScraperResult<ParseResult>.
type outcome struct {
	req    model.Request
	result model.ParseResult
	err    *model.TaskError
}

// run holds everything scoped to one Engine.Run call. Splitting this out of
// Engine keeps the engine itself reusable across concurrent or sequential
// Run calls without the per-crawl mutable state (visited set, in-flight
// counters, stop flag) leaking between them.
type run struct {
	eng        *Engine
	spider     spider.Spider
	transport  transport.Transport
	controller *retry.Controller
	cfg        model.SpiderConfig

	sem      *semaphore.Weighted
	throttle *domainThrottle
	results  chan outcome
	wg       sync.WaitGroup

	// visited and techDetected are both "have we seen this key" sets; reusing
	// the same concurrent-safe cache for both avoids two near-identical
	// map+mutex pairs.
	visited      *cache.InMemoryCache
	techDetected *cache.InMemoryCache

	stopped atomic.Bool
}

func newRun(ctx context.Context, eng *Engine, sp spider.Spider, t transport.Transport, cfg model.SpiderConfig) *run {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &run{
		eng:          eng,
		spider:       sp,
		transport:    t,
		controller:   retry.New(cfg.Categories),
		cfg:          cfg,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		throttle:     newDomainThrottle(cfg.RateLimit),
		results:      make(chan outcome, concurrency*2),
		visited:      cache.NewInMemoryCache(),
		techDetected: cache.NewInMemoryCache(),
	}
}

func (r *run) visitedCount() int {
	return r.visited.Len()
}

// execute is the engine's main loop: seed start requests, then drain
// outcomes until every spawned task (including ones spawned while draining)
// has reported in. Grounded on crawler.rs's run(), which loops
// `while let Some(result) = futures.next().await` — here the channel close,
// triggered once the WaitGroup reaches zero, plays that role.
func (r *run) execute(ctx context.Context) {
	r.dispatch(ctx, r.spider.StartRequests(), false)

	go func() {
		r.wg.Wait()
		close(r.results)
	}()

	for o := range r.results {
		// Done() is called here, by the consumer, only after route() has
		// finished processing this outcome — never by the task goroutine
		// itself right after it sends. Otherwise the counter could reach
		// zero (and the results channel get closed) before route()'s own
		// dispatch of follow-up work has had a chance to Add for it.
		r.route(ctx, o)
		r.wg.Done()
	}
}

// dispatch applies the visited-set and depth-limit admission gates and
// spawns one goroutine per admitted request. isRetry requests bypass the
// "already visited" skip (crawler.rs re-admits a retried request
// unconditionally) but are still recorded as visited.
func (r *run) dispatch(ctx context.Context, reqs []model.Request, isRetry bool) {
	for _, req := range reqs {
		if r.stopped.Load() {
			continue
		}
		if req.Depth >= r.cfg.MaxDepth {
			log.Debug().Str("url", req.URL).Int("depth", req.Depth).Msg("max depth exceeded, dropping request")
			continue
		}

		if isRetry || r.cfg.AllowURLRevisit {
			r.visited.Set(req.URL, true)
		} else if r.visited.CheckAndSet(req.URL, true) {
			continue
		}
		telemetry.RecordURLVisited(ctx, r.spider.Name())

		r.wg.Add(1)
		go r.runFetchTask(ctx, req)
	}
}

// runFetchTask performs one fetch-then-parse cycle. It acquires the
// concurrency semaphore itself rather than the draining loop acquiring it,
// since the draining loop is the only reader of r.results: if it blocked on
// sem.Acquire before reading, a full semaphore would deadlock against
// releases that can only happen once that same loop reads a result.
func (r *run) runFetchTask(ctx context.Context, req model.Request) {
	// No deferred wg.Done() here: the matching Done() for this task's Add(1)
	// is called by the consumer loop in execute(), only after it has fully
	// processed the outcome this function sends (see execute's comment).
	defer r.recoverPanic(ctx, req)

	start := time.Now()
	telemetry.RecordFetchStart(ctx, int64(r.cfg.MaxConcurrency))
	defer telemetry.RecordFetchEnd(ctx)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		telemetry.RecordFetch(ctx, r.spider.Name(), "sem_acquire_failed", time.Since(start))
		r.results <- outcome{req: req, err: model.NewTaskError(model.ErrTransport, &req, err)}
		return
	}
	defer r.sem.Release(1)

	if err := r.throttle.wait(ctx, req.URL); err != nil {
		telemetry.RecordFetch(ctx, r.spider.Name(), "throttle_wait_failed", time.Since(start))
		r.results <- outcome{req: req, err: model.NewTaskError(model.ErrTransport, &req, err)}
		return
	}

	spanCtx, span := r.eng.tracer.Start(ctx, "engine.process_request", trace.WithAttributes(
		attribute.String("url", req.URL),
		attribute.Int("depth", req.Depth),
	))
	defer span.End()

	// Spider-config headers apply to every request; the request's own
	// headers win on conflict.
	fetchReq := req
	if len(r.cfg.Headers) > 0 {
		merged := make(map[string]string, len(r.cfg.Headers)+len(req.Headers))
		for k, v := range r.cfg.Headers {
			merged[k] = v
		}
		for k, v := range req.Headers {
			merged[k] = v
		}
		fetchReq.Headers = merged
	}

	resp, err := transport.Fetch(spanCtx, r.transport, fetchReq, r.controller)
	if err != nil {
		telemetry.RecordFetch(ctx, r.spider.Name(), "fetch_error", time.Since(start))
		r.results <- outcome{req: req, err: classifyFetchErr(&req, err)}
		return
	}

	r.maybeDetectTech(resp)

	result, perr := r.spider.ProcessResponse(spanCtx, spider.Response{Response: resp, Callback: req.Callback})
	if r.eng.stats != nil {
		r.eng.stats.RecordRequest(ctx, resp.Status, int64(len(resp.RawBody)), time.Since(start), perr == nil)
	}
	if perr != nil {
		telemetry.RecordFetch(ctx, r.spider.Name(), "parse_error", time.Since(start))
		r.results <- outcome{req: req, err: classifyParseErr(&req, perr)}
		return
	}

	telemetry.RecordFetch(ctx, r.spider.Name(), result.Kind.String(), time.Since(start))
	r.results <- outcome{req: req, result: result}
}

// runReprocessTask re-runs ProcessResponse against an already-fetched
// Response without refetching, the path ResultRetrySameContent takes.
func (r *run) runReprocessTask(ctx context.Context, req model.Request, resp *model.Response, callback model.Callback) {
	// Same Done()-by-consumer contract as runFetchTask.
	defer r.recoverPanic(ctx, req)

	result, perr := r.spider.ProcessResponse(ctx, spider.Response{Response: resp, Callback: callback})
	if perr != nil {
		r.results <- outcome{req: req, err: classifyParseErr(&req, perr)}
		return
	}
	r.results <- outcome{req: req, result: result}
}

// route matches crawler.rs's match on the per-request ScraperResult: an
// error is classified by TaskError.Kind, a success is matched on
// ParseResult.Kind.
func (r *run) route(ctx context.Context, o outcome) {
	if o.err != nil {
		r.handleTaskError(ctx, o.req, o.err)
		return
	}

	switch o.result.Kind {
	case model.ResultContinue:
		r.dispatch(ctx, o.result.Requests, false)

	case model.ResultSkip:
		// nothing to do

	case model.ResultStop:
		log.Info().Str("spider", r.spider.Name()).Msg("spider requested stop, draining in-flight work")
		r.stopped.Store(true)

	case model.ResultRetrySameContent:
		r.retrySameContent(ctx, o.req, o.result.Response)

	case model.ResultRetryNewContent:
		next := o.req
		if o.result.Request != nil {
			next = *o.result.Request
		}
		r.checkAndProcessRetry(ctx, next, &model.ParsingError{Msg: "retry with new content requested"})
	}
}

// retrySameContent mirrors handle_same_content_retry: ask the controller
// (via a synthetic ParsingError, since a same-content retry is always a
// parse-time decision) whether to retry, and if so re-dispatch processing
// of the same Response without refetching it.
func (r *run) retrySameContent(ctx context.Context, req model.Request, resp *model.Response) {
	if resp == nil {
		return
	}
	retryErr := &model.ParsingError{Msg: "same content retry requested"}
	category, delay, ok := r.controller.ShouldRetryParse(resp.URL, retryErr)
	if !ok {
		log.Debug().Str("url", resp.URL).Msg("same-content retry requested but no matching retry condition, dropping")
		return
	}
	telemetry.RecordRetry(ctx, r.spider.Name(), category.String())

	r.wg.Add(1)
	go func() {
		select {
		case <-ctx.Done():
			r.wg.Done()
		case <-time.After(delay):
			r.runReprocessTask(ctx, req, resp, req.Callback)
		}
	}()
}

// checkAndProcessRetry mirrors check_and_process_retry: always record the
// failure to the error sink first, then ask the controller whether a parse
// retry applies; if so sleep and re-dispatch the originating request as a
// retry, otherwise the failure is terminal and only logged.
func (r *run) checkAndProcessRetry(ctx context.Context, req model.Request, cause error) {
	r.storeErrorItem(ctx, req, cause)

	category, delay, ok := r.controller.ShouldRetryParse(req.URL, cause)
	if !ok {
		log.Warn().Str("url", req.URL).Err(cause).Msg("no retry configuration matches, giving up")
		return
	}

	log.Warn().Str("url", req.URL).Str("category", category.String()).Dur("delay", delay).Err(cause).Msg("retrying after parse/storage failure")
	telemetry.RecordRetry(ctx, r.spider.Name(), category.String())

	r.wg.Add(1)
	go func() {
		select {
		case <-ctx.Done():
			r.wg.Done()
		case <-time.After(delay):
			// dispatch's own wg.Add(1) must happen before this goroutine's
			// Done(), so the WaitGroup counter never has a window at zero
			// between the two — otherwise a concurrent Wait() could return
			// and close the results channel before the retried request is
			// admitted.
			r.dispatch(ctx, []model.Request{req}, true)
			r.wg.Done()
		}
	}()
}

func (r *run) storeErrorItem(ctx context.Context, req model.Request, cause error) {
	item := model.StorageItem[any]{
		URL:       req.URL,
		Timestamp: time.Now(),
		Data: map[string]any{
			"error": cause.Error(),
			"url":   req.URL,
		},
		Metadata: map[string]any{
			"spider": r.spider.Name(),
			"depth":  req.Depth,
		},
		ID: fmt.Sprintf("%s-error", req.URL),
	}
	if err := r.spider.StoreData(ctx, item, model.ErrorCategory(), req); err != nil {
		log.Error().Str("url", req.URL).Err(err).Msg("failed to store error item")
		if r.eng.notifier != nil {
			r.eng.notifier.Emit(ctx, notifications.Event{
				Kind:    notifications.EventStorageFailure,
				Spider:  r.spider.Name(),
				URL:     req.URL,
				Summary: "failed to persist error item",
				Detail:  err.Error(),
			})
		}
	}
}

// handleTaskError routes a classified TaskError exactly as crawler.rs's
// top-level match does: max-retries-reached escalates to the spider,
// storage/parsing failures go through checkAndProcessRetry, everything else
// (raw transport failures that escaped Fetch's own retry loop, cancelled
// contexts) is logged and dropped — the engine never retries a failure type
// it was not told how to retry.
func (r *run) handleTaskError(ctx context.Context, req model.Request, taskErr *model.TaskError) {
	switch taskErr.Kind {
	case model.ErrMaxRetriesReached:
		var mrErr *model.MaxRetriesReachedError
		category := model.RetryCategory{}
		if asMaxRetries(taskErr.Err, &mrErr) {
			category = mrErr.Category
		}
		if err := r.spider.HandleMaxRetries(ctx, category, req); err != nil {
			log.Error().Str("url", req.URL).Err(err).Msg("spider's HandleMaxRetries returned an error")
		}
		if r.eng.notifier != nil {
			r.eng.notifier.Emit(ctx, notifications.Event{
				Kind:    notifications.EventMaxRetriesReached,
				Spider:  r.spider.Name(),
				URL:     req.URL,
				Summary: fmt.Sprintf("exhausted retries in category %s", category),
			})
		}

	case model.ErrStorage:
		if r.eng.stats != nil {
			r.eng.stats.RecordStorageError()
		}
		r.checkAndProcessRetry(ctx, req, taskErr.Err)

	case model.ErrParsing:
		if r.eng.stats != nil {
			r.eng.stats.RecordParseError()
		}
		r.checkAndProcessRetry(ctx, req, taskErr.Err)

	default:
		if r.eng.stats != nil {
			r.eng.stats.RecordUnhandledError()
		}
		log.Warn().Str("url", req.URL).Str("kind", taskErr.Kind.String()).Err(taskErr.Err).Msg("unhandled task error")
	}
}

func classifyFetchErr(req *model.Request, err error) *model.TaskError {
	var mrErr *model.MaxRetriesReachedError
	if asMaxRetries(err, &mrErr) {
		return model.NewTaskError(model.ErrMaxRetriesReached, req, err)
	}
	return model.NewTaskError(model.ErrTransport, req, err)
}

func classifyParseErr(req *model.Request, err error) *model.TaskError {
	if _, ok := err.(*model.StorageError); ok {
		return model.NewTaskError(model.ErrStorage, req, err)
	}
	return model.NewTaskError(model.ErrParsing, req, err)
}

// asMaxRetries is a small errors.As wrapper kept local so the rest of this
// file doesn't need to import errors just for this one check.
func asMaxRetries(err error, target **model.MaxRetriesReachedError) bool {
	for err != nil {
		if mr, ok := err.(*model.MaxRetriesReachedError); ok {
			*target = mr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
