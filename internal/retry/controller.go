// Package retry implements the per-URL, per-category retry controller: it
// decides whether a fetch or parse outcome should be retried, under which
// category, and after how long, while keeping idempotent attempt counters
// for the lifetime of a crawl.
package retry

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// Controller is the thread-safe, per-URL retry state machine.
type Controller struct {
	mu         sync.RWMutex
	categories []model.CategoryEntry // insertion order is significant
	states     map[string]model.RetryState

	regexMu    sync.RWMutex
	regexCache map[string]*regexp.Regexp
}

// New builds a Controller from a spider's ordered category list.
func New(categories []model.CategoryEntry) *Controller {
	return &Controller{
		categories: categories,
		states:     make(map[string]model.RetryState),
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// GetRetryState returns a snapshot copy of the per-URL state.
func (c *Controller) GetRetryState(url string) model.RetryState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.states[url]; ok {
		return s.Clone()
	}
	return model.NewRetryState()
}

// ShouldRetryRequest iterates categories in insertion order, evaluating
// only request-kind conditions against (status, body); on the first
// match, it increments counters and returns the category and computed
// delay.
func (c *Controller) ShouldRetryRequest(url string, status uint16, body string) (model.RetryCategory, time.Duration, bool) {
	return c.shouldRetry(url, func(cond model.RetryCondition) bool {
		return cond.Kind == model.ConditionRequest && c.matchRequestCondition(cond.Request, status, body)
	})
}

// ShouldRetryParse has the same shape as ShouldRetryRequest, evaluating
// parse-kind conditions against the structured error instead.
func (c *Controller) ShouldRetryParse(url string, err error) (model.RetryCategory, time.Duration, bool) {
	return c.shouldRetry(url, func(cond model.RetryCondition) bool {
		return cond.Kind == model.ConditionParse && c.matchParseCondition(cond.Parse, err)
	})
}

// ExhaustedCategory reports whether status/body matches a configured
// request condition whose category has already used up its MaxRetries —
// i.e. ShouldRetryRequest would have returned ok=false not because nothing
// matched, but because the matching category is capped. The transport uses
// this to distinguish "this response is still failing, give up for good"
// from "this response is fine, stop looking for a reason to retry".
func (c *Controller) ExhaustedCategory(url string, status uint16, body string) (model.RetryCategory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := c.states[url]
	for _, entry := range c.categories {
		if state.Counts[entry.Category] < entry.Config.MaxRetries {
			continue
		}
		for _, cond := range entry.Config.Conditions {
			if cond.Kind == model.ConditionRequest && c.matchRequestCondition(cond.Request, status, body) {
				return entry.Category, true
			}
		}
	}
	return model.RetryCategory{}, false
}

func (c *Controller) matchRequestCondition(cond model.RequestCondition, status uint16, body string) bool {
	switch cond.Kind {
	case model.RequestConditionStatusCode:
		return cond.StatusCode == status
	case model.RequestConditionContent:
		return c.matchContent(cond.Pattern, cond.IsRegex, body)
	default:
		return false
	}
}

func (c *Controller) matchParseCondition(cond model.ParseCondition, err error) bool {
	switch cond.Kind {
	case model.ParseConditionContent:
		return c.matchContent(cond.Pattern, cond.IsRegex, errorMessage(err))
	case model.ParseConditionStorageError:
		se, ok := err.(*model.StorageError)
		return ok && se.Kind == cond.StorageErrorKind
	case model.ParseConditionErrorWhileParsing:
		_, ok := err.(*model.ParsingError)
		return ok
	default:
		return false
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// matchContent applies the content-matching rule: for non-regex patterns,
// both sides lowercased then substring-matched; for regex, compile on
// demand and swallow a compile failure as "no match".
func (c *Controller) matchContent(pattern string, isRegex bool, content string) bool {
	if !isRegex {
		return strings.Contains(strings.ToLower(content), strings.ToLower(pattern))
	}

	c.regexMu.RLock()
	re, cached := c.regexCache[pattern]
	c.regexMu.RUnlock()
	if !cached {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		c.regexMu.Lock()
		c.regexCache[pattern] = compiled
		c.regexMu.Unlock()
		re = compiled
	}
	return re.MatchString(content)
}

// shouldRetry holds the write lock end-to-end across one decision, so no
// other goroutine can observe or mutate this URL's state mid-decision. The
// delay is computed from the pre-increment attempt index.
func (c *Controller) shouldRetry(url string, matches func(model.RetryCondition) bool) (model.RetryCategory, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[url]
	if !ok {
		state = model.NewRetryState()
	}

	for _, entry := range c.categories {
		current := state.Counts[entry.Category]
		if current >= entry.Config.MaxRetries {
			continue
		}

		for _, cond := range entry.Config.Conditions {
			if !matches(cond) {
				continue
			}

			if state.Counts == nil {
				state.Counts = make(map[model.RetryCategory]int)
			}
			state.Counts[entry.Category] = current + 1
			state.TotalRetries++
			c.states[url] = state

			return entry.Category, entry.Config.CalculateDelay(current), true
		}
	}

	c.states[url] = state
	return model.RetryCategory{}, 0, false
}
