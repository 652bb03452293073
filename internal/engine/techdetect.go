package engine

import (
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// maybeDetectTech runs technology fingerprinting once per domain, on that
// domain's first successful HTML response — repeating it on every page
// would be wasted work for a fingerprint that rarely changes mid-crawl.
// Strictly observational: its result is logged, never fed back into
// scheduling or parsing.
func (r *run) maybeDetectTech(resp *model.Response) {
	if r.eng.techdetector == nil || resp.ResponseType != model.ResponseHTML {
		return
	}

	u, err := url.Parse(resp.URL)
	if err != nil || u.Host == "" {
		return
	}

	if r.techDetected.CheckAndSet(u.Host, true) {
		return
	}

	result := r.eng.techdetector.DetectFromModelResponse(resp)
	log.Info().
		Str("host", u.Host).
		Interface("technologies", result.Technologies).
		Msg("detected technologies")
}
