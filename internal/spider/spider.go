// Package spider defines the contract a crawl target implements: how to
// seed requests, how to turn a fetched response into the five-way
// ParseResult protocol, and how to react once a retry category is
// exhausted.
//
// Grounded on original_source/src/core/spider.rs's Spider trait, extended
// with the store_data/handle_max_retries call sites crawler.rs invokes on
// it, and on internal/jobs/interfaces.go's small-named-interface style.
package spider

import (
	"context"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// Response pairs a fetched Response with the callback the engine should
// dispatch it to, mirroring original_source's SpiderResponse.
type Response struct {
	Response *model.Response
	Callback model.Callback
}

// Spider is implemented by every crawl target. StartRequests seeds the
// crawl; ProcessResponse is invoked once per fetched Response and decides
// what happens next; StoreData and HandleMaxRetries let the engine delegate
// persistence and terminal-retry handling back to spider-specific policy.
type Spider interface {
	Name() string
	StartRequests() []model.Request
	Config() model.SpiderConfig
	SetConfig(cfg model.SpiderConfig)

	ProcessResponse(ctx context.Context, resp Response) (model.ParseResult, error)

	StoreData(ctx context.Context, item model.StorageItem[any], category model.StorageCategory, req model.Request) error

	HandleMaxRetries(ctx context.Context, category model.RetryCategory, req model.Request) error
}

// BaseSpider is an embeddable default implementation: Name/StartRequests/
// Config come from fields, HandleMaxRetries gives up silently, and StoreData
// is left to the embedding spider — matching the "most methods have
// sensible defaults, parsing is always custom" shape of the original trait.
type BaseSpider struct {
	SpiderName string
	Requests   []model.Request
	SpiderConf model.SpiderConfig
}

func (b *BaseSpider) Name() string { return b.SpiderName }
func (b *BaseSpider) StartRequests() []model.Request { return b.Requests }
func (b *BaseSpider) Config() model.SpiderConfig { return b.SpiderConf }
func (b *BaseSpider) SetConfig(cfg model.SpiderConfig) { b.SpiderConf = cfg }

// HandleMaxRetries is the default terminal-retry policy: give up silently.
// Spiders that need to escalate (e.g. mark a URL permanently failed in a
// sink) override this method.
func (b *BaseSpider) HandleMaxRetries(ctx context.Context, category model.RetryCategory, req model.Request) error {
	return nil
}
