package engine

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelcrawl/kestrel/internal/telemetry"
)

// domainThrottle hands out a golang.org/x/time/rate.Limiter per host,
// created lazily on first use. This is an ambient per-domain politeness
// control supplementing the retry controller's backoff, which only reacts
// to failures rather than pacing requests up front.
type domainThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

func newDomainThrottle(rps float64) *domainThrottle {
	if rps <= 0 {
		return nil
	}
	return &domainThrottle{limiters: make(map[string]*rate.Limiter), rps: rps}
}

// wait blocks until rawURL's host is allowed to proceed. A malformed URL
// has no host to key a limiter on, so it passes through unthrottled.
func (d *domainThrottle) wait(ctx context.Context, rawURL string) error {
	if d == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}

	d.mu.Lock()
	lim, ok := d.limiters[u.Host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.rps), 1)
		d.limiters[u.Host] = lim
	}
	d.mu.Unlock()

	start := time.Now()
	err = lim.Wait(ctx)
	telemetry.RecordThrottleWait(ctx, u.Host, time.Since(start))
	return err
}
