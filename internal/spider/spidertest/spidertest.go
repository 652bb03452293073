// Package spidertest provides a minimal, scriptable spider.Spider used by
// internal/engine's tests — grounded on original_source/src/scrapers/mock_scraper.rs's
// role as a test double for the fetch/process loop.
package spidertest

import (
	"context"
	"sync"

	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/spider"
)

// Spider is a fully scriptable spider.Spider: ProcessFunc decides the
// ParseResult for each response, and every StoreData/HandleMaxRetries call
// is recorded for assertions.
type Spider struct {
	SpiderName    string
	Requests      []model.Request
	SpiderConf    model.SpiderConfig
	ProcessFunc   func(resp spider.Response) (model.ParseResult, error)

	mu            sync.Mutex
	Stored        []model.StorageItem[any]
	MaxRetriesHit []model.RetryCategory
}

func (s *Spider) Name() string                      { return s.SpiderName }
func (s *Spider) StartRequests() []model.Request    { return s.Requests }
func (s *Spider) Config() model.SpiderConfig        { return s.SpiderConf }
func (s *Spider) SetConfig(cfg model.SpiderConfig)  { s.SpiderConf = cfg }

func (s *Spider) ProcessResponse(ctx context.Context, resp spider.Response) (model.ParseResult, error) {
	if s.ProcessFunc == nil {
		return model.Skip(), nil
	}
	return s.ProcessFunc(resp)
}

func (s *Spider) StoreData(ctx context.Context, item model.StorageItem[any], category model.StorageCategory, req model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stored = append(s.Stored, item)
	return nil
}

func (s *Spider) HandleMaxRetries(ctx context.Context, category model.RetryCategory, req model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxRetriesHit = append(s.MaxRetriesHit, category)
	return nil
}
