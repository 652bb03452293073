// Package examples provides a minimal, fully working spider.Spider used by
// cmd/crawl as a runnable demonstration of the engine. It follows same-host
// links it finds in each page's <a href> elements, up to the configured
// depth, and stores every page's title and word count.
//
// Link extraction is grounded on internal/jobs/manager.go's
// goquery-based header-link scan, generalised from "only <header> anchors"
// to "every anchor on the page" and from "collect paths for priority
// scoring" to "build child Requests for the engine to dispatch".
package examples

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/spider"
	"github.com/kestrelcrawl/kestrel/internal/storage"
	"github.com/kestrelcrawl/kestrel/internal/util"
)

// LinkSpider crawls a single host starting from Requests[0], storing each
// page's title/word-count and following same-host links it discovers.
type LinkSpider struct {
	spider.BaseSpider
	Host  string
	Sinks *storage.SinkSet
}

// NewLinkSpider builds a LinkSpider seeded at startURL, crawling only pages
// on startURL's own host and storing through sinks. startURL is normalised
// (scheme defaulted to https, trimmed) and its host validated as a real,
// non-internal domain before any request is built.
func NewLinkSpider(name, startURL string, cfg model.SpiderConfig, sinks *storage.SinkSet) (*LinkSpider, error) {
	normalised := util.NormaliseURL(startURL)
	if normalised == "" {
		return nil, fmt.Errorf("examples: %q is not a usable URL", startURL)
	}

	u, err := url.Parse(normalised)
	if err != nil {
		return nil, err
	}
	if err := util.ValidateDomain(u.Host); err != nil {
		return nil, fmt.Errorf("examples: %w", err)
	}

	return &LinkSpider{
		BaseSpider: spider.BaseSpider{
			SpiderName: name,
			Requests:   []model.Request{model.NewRequest(normalised)},
			SpiderConf: cfg,
		},
		Host:  u.Host,
		Sinks: sinks,
	}, nil
}

// StoreData writes to whichever sink is registered for category.
func (s *LinkSpider) StoreData(ctx context.Context, item model.StorageItem[any], category model.StorageCategory, req model.Request) error {
	return s.Sinks.Store(ctx, item, category)
}

type pageItem struct {
	Title     string `json:"title"`
	WordCount int    `json:"word_count"`
	LinkCount int    `json:"link_count"`
}

func (s *LinkSpider) ProcessResponse(ctx context.Context, resp spider.Response) (model.ParseResult, error) {
	if resp.Response.ResponseType != model.ResponseHTML {
		return model.Skip(), nil
	}

	return spider.DefaultProcessResponse(ctx, s, resp, func(r *model.Response) (model.ParsedData, []model.Request, error) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.DecodedBody))
		if err != nil {
			return model.ParsedData{}, nil, &model.ParsingError{Msg: err.Error()}
		}

		base, _ := url.Parse(r.URL)
		var children []model.Request
		seen := make(map[string]bool)

		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			link, err := url.Parse(href)
			if err != nil {
				return
			}
			if base != nil && !link.IsAbs() {
				link = base.ResolveReference(link)
			}
			link.Fragment = ""
			if link.Host != s.Host || seen[link.String()] {
				return
			}
			seen[link.String()] = true

			childReq := model.Request{URL: link.String(), Method: "GET"}
			if r.FromRequest != nil {
				childReq = r.FromRequest.Child(link.String(), model.ParseItem())
			}
			children = append(children, childReq)
		})

		item := pageItem{
			Title:     strings.TrimSpace(doc.Find("title").First().Text()),
			WordCount: len(strings.Fields(doc.Find("body").Text())),
			LinkCount: len(children),
		}

		return model.ItemData(item), children, nil
	})
}
