package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/spider"
	"github.com/kestrelcrawl/kestrel/internal/spider/spidertest"
	"github.com/kestrelcrawl/kestrel/internal/stats"
	"github.com/kestrelcrawl/kestrel/internal/storage"
	"github.com/kestrelcrawl/kestrel/internal/transport"
)

// scriptedTransport maps a URL to a canned status, defaulting to 200 for
// anything unscripted, so tests can exercise multi-page crawls without a
// network round trip.
type scriptedTransport struct {
	mu       sync.Mutex
	byURL    map[string]uint16
	statsT   *stats.Tracker
	fetched  []string
}

func (f *scriptedTransport) FetchSingle(ctx context.Context, req model.Request) (*model.Response, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, req.URL)
	status, ok := f.byURL[req.URL]
	f.mu.Unlock()
	if !ok {
		status = 200
	}
	return &model.Response{
		URL:          req.URL,
		Status:       status,
		DecodedBody:  "<html>ok</html>",
		RawBody:      []byte("<html>ok</html>"),
		Headers:      map[string]string{"Content-Type": "text/html"},
		Timestamp:    time.Now(),
		ResponseType: model.ResponseHTML,
	}, nil
}

func (f *scriptedTransport) BoxClone() transport.Transport   { return f }
func (f *scriptedTransport) Stats() *stats.Tracker           { return f.statsT }
func (f *scriptedTransport) SetStats(s *stats.Tracker)       { f.statsT = s }

func (f *scriptedTransport) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func newTestEngine(t *testing.T, ft *scriptedTransport) *Engine {
	t.Helper()
	disk, err := storage.NewDiskBackend(t.TempDir())
	require.NoError(t, err)
	sinks := storage.NewSinkSet()
	require.NoError(t, sinks.Register(model.DataCategory(), disk, "items"))
	require.NoError(t, sinks.Register(model.ErrorCategory(), disk, "errors"))
	return New(ft, sinks, WithStats(stats.New()))
}

func TestRun_FollowsDiscoveredLinksUpToMaxDepth(t *testing.T) {
	ft := &scriptedTransport{byURL: map[string]uint16{}}
	eng := newTestEngine(t, ft)

	sp := &spidertest.Spider{
		SpiderName: "link-follower",
		Requests:   []model.Request{model.NewRequest("https://example.com/start")},
		SpiderConf: *model.DefaultSpiderConfig().WithDepth(2).WithConcurrency(4),
		ProcessFunc: func(resp spider.Response) (model.ParseResult, error) {
			if resp.Response.URL == "https://example.com/start" {
				return model.Continue(resp.Response.FromRequest.Child("https://example.com/child", model.ParseItem())), nil
			}
			return model.Skip(), nil
		},
	}

	require.NoError(t, eng.Run(context.Background(), sp))

	fetched := ft.fetchedURLs()
	assert.Contains(t, fetched, "https://example.com/start")
	assert.Contains(t, fetched, "https://example.com/child")
}

func TestRun_MaxDepthDropsRequest(t *testing.T) {
	ft := &scriptedTransport{byURL: map[string]uint16{}}
	eng := newTestEngine(t, ft)

	sp := &spidertest.Spider{
		SpiderName: "depth-limited",
		Requests:   []model.Request{model.NewRequest("https://example.com/start")},
		SpiderConf: *model.DefaultSpiderConfig().WithDepth(0).WithConcurrency(4),
		ProcessFunc: func(resp spider.Response) (model.ParseResult, error) {
			t.Fatal("ProcessFunc must not run: the depth-0 start request meets max depth 0 and is dropped before fetch")
			return model.Skip(), nil
		},
	}

	require.NoError(t, eng.Run(context.Background(), sp))

	assert.Empty(t, ft.fetchedURLs())
}

func TestRun_DuplicateURLIsFetchedOnlyOnceWithoutRevisit(t *testing.T) {
	ft := &scriptedTransport{byURL: map[string]uint16{}}
	eng := newTestEngine(t, ft)

	called := 0
	var mu sync.Mutex
	sp := &spidertest.Spider{
		SpiderName: "dedup",
		Requests: []model.Request{
			model.NewRequest("https://example.com/a"),
			model.NewRequest("https://example.com/a"),
		},
		SpiderConf: *model.DefaultSpiderConfig().WithDepth(1).WithConcurrency(4),
		ProcessFunc: func(resp spider.Response) (model.ParseResult, error) {
			mu.Lock()
			called++
			mu.Unlock()
			return model.Skip(), nil
		},
	}

	require.NoError(t, eng.Run(context.Background(), sp))
	assert.Equal(t, 1, called)
}

func TestRun_StopHaltsNewDispatchButDrainsInFlight(t *testing.T) {
	ft := &scriptedTransport{byURL: map[string]uint16{}}
	eng := newTestEngine(t, ft)

	sp := &spidertest.Spider{
		SpiderName: "stopper",
		Requests: []model.Request{
			model.NewRequest("https://example.com/a"),
		},
		SpiderConf: *model.DefaultSpiderConfig().WithDepth(3).WithConcurrency(4),
		ProcessFunc: func(resp spider.Response) (model.ParseResult, error) {
			if resp.Response.URL == "https://example.com/a" {
				return model.Stop(), nil
			}
			return model.Continue(resp.Response.FromRequest.Child("https://example.com/never", model.ParseItem())), nil
		},
	}

	require.NoError(t, eng.Run(context.Background(), sp))
	assert.NotContains(t, ft.fetchedURLs(), "https://example.com/never")
}

func TestRun_MaxRetriesReachedEscalatesToSpider(t *testing.T) {
	ft := &scriptedTransport{byURL: map[string]uint16{"https://example.com/limited": 429}}
	eng := newTestEngine(t, ft)

	cfg := model.DefaultSpiderConfig().WithConcurrency(2)
	cfg.Categories = []model.CategoryEntry{
		{
			Category: model.CategoryRateLimit,
			Config: model.CategoryConfig{
				MaxRetries:    1,
				InitialDelay:  time.Millisecond,
				MaxDelay:      time.Millisecond,
				BackoffPolicy: model.ConstantBackoff(),
				Conditions: []model.RetryCondition{
					model.RequestRetryCondition(model.StatusCodeCondition(429)),
				},
			},
		},
	}

	sp := &spidertest.Spider{
		SpiderName: "rate-limited",
		Requests:   []model.Request{model.NewRequest("https://example.com/limited")},
		SpiderConf: *cfg,
	}

	require.NoError(t, eng.Run(context.Background(), sp))

	require.Len(t, sp.MaxRetriesHit, 1)
	assert.Equal(t, model.CategoryRateLimit, sp.MaxRetriesHit[0])
}

func TestRun_RetrySameContentReprocessesWithoutRefetching(t *testing.T) {
	ft := &scriptedTransport{byURL: map[string]uint16{}}
	eng := newTestEngine(t, ft)

	cfg := model.DefaultSpiderConfig().WithConcurrency(2)
	cfg.Categories = []model.CategoryEntry{
		{
			Category: model.CategoryParseError,
			Config: model.CategoryConfig{
				MaxRetries:    2,
				InitialDelay:  time.Millisecond,
				MaxDelay:      time.Millisecond,
				BackoffPolicy: model.ConstantBackoff(),
				Conditions: []model.RetryCondition{
					model.ParseRetryCondition(model.ParseErrorWhileParsingCondition(model.RetrySameContent)),
				},
			},
		},
	}

	var calls int32
	sp := &spidertest.Spider{
		SpiderName: "same-content-retry",
		Requests:   []model.Request{model.NewRequest("https://example.com/flaky")},
		SpiderConf: *cfg,
		ProcessFunc: func(resp spider.Response) (model.ParseResult, error) {
			n := atomic.AddInt32(&calls, 1)
			if n < 2 {
				return model.RetryWithSameContent(resp.Response), nil
			}
			return model.Skip(), nil
		},
	}

	require.NoError(t, eng.Run(context.Background(), sp))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	// Only one actual HTTP fetch: the retry reprocesses the same Response.
	assert.Equal(t, []string{"https://example.com/flaky"}, ft.fetchedURLs())
}

func TestRun_RetryNewContentRefetchesRequest(t *testing.T) {
	ft := &scriptedTransport{byURL: map[string]uint16{}}
	eng := newTestEngine(t, ft)

	cfg := model.DefaultSpiderConfig().WithConcurrency(2)
	cfg.Categories = []model.CategoryEntry{
		{
			Category: model.CategoryParseError,
			Config: model.CategoryConfig{
				MaxRetries:    2,
				InitialDelay:  time.Millisecond,
				MaxDelay:      time.Millisecond,
				BackoffPolicy: model.ConstantBackoff(),
				Conditions: []model.RetryCondition{
					model.ParseRetryCondition(model.ParseErrorWhileParsingCondition(model.RetryFetchNew)),
				},
			},
		},
	}

	var calls int32
	sp := &spidertest.Spider{
		SpiderName: "new-content-retry",
		Requests:   []model.Request{model.NewRequest("https://example.com/stale")},
		SpiderConf: *cfg,
		ProcessFunc: func(resp spider.Response) (model.ParseResult, error) {
			n := atomic.AddInt32(&calls, 1)
			if n < 2 {
				req := resp.Response.FromRequest
				return model.RetryWithNewContent(req), nil
			}
			return model.Skip(), nil
		},
	}

	require.NoError(t, eng.Run(context.Background(), sp))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	// RetryWithNewContent re-dispatches the request, so it is fetched twice.
	assert.Equal(t, []string{"https://example.com/stale", "https://example.com/stale"}, ft.fetchedURLs())
}
