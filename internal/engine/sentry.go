package engine

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// recoverPanic reports a panic inside a task goroutine to Sentry (when
// configured) instead of letting it crash the whole process — a single bad
// page should not take down an entire crawl. It sends a synthetic error
// outcome on the same path a normal failure would, so the consumer loop's
// Done() call for this task still happens exactly once either way.
func (r *run) recoverPanic(ctx context.Context, req model.Request) {
	rec := recover()
	if rec == nil {
		return
	}

	log.Error().Interface("panic", rec).Str("url", req.URL).Msg("recovered from panic in crawl task")

	if r.eng.sentryHub != nil {
		r.eng.sentryHub.RecoverWithContext(ctx, rec)
	} else {
		sentry.CurrentHub().RecoverWithContext(ctx, rec)
	}

	r.results <- outcome{req: req, err: model.NewTaskError(model.ErrTransport, &req, nil)}
}
