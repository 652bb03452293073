// Package transport implements the fetch side of the crawl engine: a
// pluggable single-fetch primitive plus the shared retry-aware Fetch loop
// built on top of it.
//
// Grounded on internal/crawler/crawler.go's colly-based fetch style and on
// original_source/src/scrapers/{scraper,http_scraper}.rs's fetch/fetch_single
// split, which this package keeps: FetchSingle performs exactly one HTTP
// round trip, Fetch wraps it with the retry controller's backoff loop.
package transport

import (
	"context"
	"time"

	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/retry"
	"github.com/kestrelcrawl/kestrel/internal/stats"
)

// Transport performs a single fetch and reports its own clone/stats wiring,
// mirroring original_source's Scraper trait (fetch_single/box_clone/stats).
type Transport interface {
	FetchSingle(ctx context.Context, req model.Request) (*model.Response, error)
	BoxClone() Transport
	Stats() *stats.Tracker
	SetStats(*stats.Tracker)
}

// Fetch drives the retry loop: call
// FetchSingle, ask the controller whether this status/body should be
// retried, sleep the computed delay, and try again. When no condition
// matches, the last response is returned as final with its retry count and
// history attached. When the response still matches a category whose
// MaxRetries is used up, Fetch returns a *model.MaxRetriesReachedError
// instead of the response.
func Fetch(ctx context.Context, t Transport, req model.Request, controller *retry.Controller) (*model.Response, error) {
	for {
		resp, err := t.FetchSingle(ctx, req)
		if err != nil {
			return nil, err
		}

		category, delay, retryNow := controller.ShouldRetryRequest(req.URL, resp.Status, resp.DecodedBody)
		if !retryNow {
			if exhaustedCategory, exhausted := controller.ExhaustedCategory(req.URL, resp.Status, resp.DecodedBody); exhausted {
				state := controller.GetRetryState(req.URL)
				return nil, &model.MaxRetriesReachedError{
					Category: exhaustedCategory,
					Attempt:  state.Counts[exhaustedCategory],
					URL:      req.URL,
				}
			}

			state := controller.GetRetryState(req.URL)
			resp.RetryCount = state.TotalRetries
			resp.RetryHistory = state.Counts
			resp.FromRequest = &req

			return resp, nil
		}

		if t.Stats() != nil {
			t.Stats().RecordRetry(ctx, category.String())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
