package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/stats"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; KestrelBot/1.0; +https://github.com/kestrelcrawl/kestrel)"

// HTTPTransport is the production Transport, built on colly's Collector the
// same way internal/crawler/crawler.go builds its fetch path. colly's API is
// callback-shaped (OnResponse/OnError); fetchResult below adapts one colly
// round trip back into a single blocking call via a buffered channel.
type HTTPTransport struct {
	collector *colly.Collector
	userAgent string
	timeout   time.Duration

	statsMu sync.RWMutex
	stats   *stats.Tracker
}

// NewHTTPTransport builds an HTTPTransport with the given user agent and
// per-request timeout. An empty userAgent falls back to defaultUserAgent.
func NewHTTPTransport(userAgent string, timeout time.Duration) *HTTPTransport {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(timeout)

	return &HTTPTransport{
		collector: c,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

type fetchResult struct {
	resp *colly.Response
	err  error
}

// FetchSingle performs exactly one HTTP round trip and maps the colly
// response into a model.Response, decoding the body to UTF-8 and detecting
// its ResponseType from headers/content.
func (t *HTTPTransport) FetchSingle(ctx context.Context, req model.Request) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make(chan fetchResult, 1)
	var once sync.Once
	send := func(r fetchResult) { once.Do(func() { results <- r }) }

	collector := t.collector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{resp: r})
	})
	collector.OnError(func(r *colly.Response, err error) {
		send(fetchResult{resp: r, err: err})
	})

	header := http.Header{}
	for k, v := range req.Headers {
		header.Set(k, v)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	collyCtx := colly.NewContext()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if err := collector.Request(method, req.URL, body, collyCtx, header); err != nil {
		return nil, fmt.Errorf("transport: request %s: %w", req.URL, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.err != nil && res.resp == nil {
			return nil, fmt.Errorf("transport: fetch %s: %w", req.URL, res.err)
		}
		return t.toResponse(req, res.resp), nil
	}
}

func (t *HTTPTransport) toResponse(req model.Request, r *colly.Response) *model.Response {
	headers := make(map[string]string, len(*r.Headers))
	for k := range *r.Headers {
		headers[k] = r.Headers.Get(k)
	}

	decoded, err := decodeBody(r.Body, headers["Content-Type"])
	if err != nil {
		decoded = string(r.Body)
	}

	resp := &model.Response{
		URL:          req.URL,
		Status:       uint16(r.StatusCode),
		Headers:      headers,
		RawBody:      r.Body,
		DecodedBody:  decoded,
		Timestamp:    time.Now(),
		RetryHistory: map[model.RetryCategory]int{},
	}
	resp.ResponseType = model.DetectResponseType(headers, decoded)
	return resp
}

// decodeBody transcodes a response body to UTF-8 using the charset named in
// the Content-Type header (falling back to content sniffing), producing the
// decoded text kept alongside RawBody on the Response.
func decodeBody(raw []byte, contentType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return "", err
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// BoxClone returns an independent Transport sharing this one's collector
// configuration and its current stats pointer (replaceable with SetStats),
// mirroring original_source's
// Scraper::box_clone used to hand a fresh fetch handle to each spawned task.
func (t *HTTPTransport) BoxClone() Transport {
	return &HTTPTransport{
		collector: t.collector.Clone(),
		userAgent: t.userAgent,
		timeout:   t.timeout,
		stats:     t.Stats(),
	}
}

func (t *HTTPTransport) Stats() *stats.Tracker {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	return t.stats
}

func (t *HTTPTransport) SetStats(s *stats.Tracker) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	t.stats = s
}
