package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

func rateLimitCategory(maxRetries int, policy model.BackoffPolicy) []model.CategoryEntry {
	return []model.CategoryEntry{
		{
			Category: model.CategoryRateLimit,
			Config: model.CategoryConfig{
				MaxRetries:    maxRetries,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      time.Second,
				BackoffPolicy: policy,
				Conditions: []model.RetryCondition{
					model.RequestRetryCondition(model.StatusCodeCondition(429)),
				},
			},
		},
	}
}

func TestShouldRetryRequest_RateLimitThenSuccess(t *testing.T) {
	c := New(rateLimitCategory(3, model.ConstantBackoff()))

	cat, delay, ok := c.ShouldRetryRequest("https://example.com/a", 429, "Rate limited")
	require.True(t, ok)
	assert.Equal(t, model.CategoryRateLimit, cat)
	assert.Equal(t, 100*time.Millisecond, delay)

	_, _, ok = c.ShouldRetryRequest("https://example.com/a", 200, "Success")
	assert.False(t, ok)

	state := c.GetRetryState("https://example.com/a")
	assert.Equal(t, 1, state.Counts[model.CategoryRateLimit])
	assert.Equal(t, 1, state.TotalRetries)
}

func TestShouldRetryRequest_ExponentialBackoffDelays(t *testing.T) {
	c := New(rateLimitCategory(5, model.ExponentialBackoff(2.0)))
	url := "https://example.com/b"

	_, d0, ok := c.ShouldRetryRequest(url, 429, "")
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d0)

	_, d1, ok := c.ShouldRetryRequest(url, 429, "")
	require.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, d1)

	_, d2, ok := c.ShouldRetryRequest(url, 429, "")
	require.True(t, ok)
	assert.Equal(t, 400*time.Millisecond, d2)

	assert.GreaterOrEqual(t, d1, d0)
	assert.GreaterOrEqual(t, d2, d1)
}

func TestShouldRetryRequest_MaxDelayCap(t *testing.T) {
	categories := []model.CategoryEntry{
		{
			Category: model.CategoryRateLimit,
			Config: model.CategoryConfig{
				MaxRetries:    10,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      300 * time.Millisecond,
				BackoffPolicy: model.ExponentialBackoff(2.0),
				Conditions: []model.RetryCondition{
					model.RequestRetryCondition(model.StatusCodeCondition(429)),
				},
			},
		},
	}
	c := New(categories)
	url := "https://example.com/cap"

	var last time.Duration
	for i := 0; i < 5; i++ {
		_, d, ok := c.ShouldRetryRequest(url, 429, "")
		require.True(t, ok)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
		assert.GreaterOrEqual(t, d, last)
		last = d
	}
}

func TestShouldRetryRequest_MaxRetriesExceeded(t *testing.T) {
	c := New(rateLimitCategory(2, model.ConstantBackoff()))
	url := "https://example.com/c"

	_, _, ok := c.ShouldRetryRequest(url, 429, "")
	require.True(t, ok)
	_, _, ok = c.ShouldRetryRequest(url, 429, "")
	require.True(t, ok)

	_, _, ok = c.ShouldRetryRequest(url, 429, "")
	assert.False(t, ok, "third attempt should exceed max_retries=2")

	state := c.GetRetryState(url)
	assert.Equal(t, 2, state.Counts[model.CategoryRateLimit])
	assert.LessOrEqual(t, state.Counts[model.CategoryRateLimit], 2)
}

func TestShouldRetryParse_StorageErrorIgnoresPayload(t *testing.T) {
	categories := []model.CategoryEntry{
		{
			Category: model.CategoryStorageError,
			Config: model.CategoryConfig{
				MaxRetries:    2,
				InitialDelay:  10 * time.Millisecond,
				MaxDelay:      time.Second,
				BackoffPolicy: model.ConstantBackoff(),
				Conditions: []model.RetryCondition{
					model.ParseRetryCondition(model.ParseStorageErrorCondition(model.StorageErrConnection, model.RetryFetchNew)),
				},
			},
		},
	}
	c := New(categories)
	url := "https://example.com/d"

	err1 := &model.StorageError{Kind: model.StorageErrConnection, Msg: "timeout"}
	err2 := &model.StorageError{Kind: model.StorageErrConnection, Msg: "refused"}

	_, _, ok := c.ShouldRetryParse(url, err1)
	assert.True(t, ok)
	_, _, ok = c.ShouldRetryParse(url, err2)
	assert.True(t, ok, "payload differs but kind matches, so this should still retry")

	_, _, ok = c.ShouldRetryParse(url, err1)
	assert.False(t, ok, "max retries reached")
}

func TestMatchContent_CaseInsensitiveSubstring(t *testing.T) {
	c := New(nil)
	assert.True(t, c.matchContent("Rate Limited", false, "you have been RATE LIMITED, slow down"))
	assert.False(t, c.matchContent("blocked", false, "all good"))
}

func TestMatchContent_InvalidRegexSwallowed(t *testing.T) {
	c := New(nil)
	assert.False(t, c.matchContent("(unterminated", true, "anything"))
}

func TestExhaustedCategory_TrueOnlyAfterCapReached(t *testing.T) {
	c := New(rateLimitCategory(1, model.ConstantBackoff()))
	url := "https://example.com/exhaust"

	_, exhausted := c.ExhaustedCategory(url, 429, "")
	assert.False(t, exhausted, "no attempts yet, this is a fresh retry opportunity, not exhaustion")

	_, _, ok := c.ShouldRetryRequest(url, 429, "")
	require.True(t, ok)

	cat, exhausted := c.ExhaustedCategory(url, 429, "")
	assert.True(t, exhausted)
	assert.Equal(t, model.CategoryRateLimit, cat)
}

func TestGetRetryState_UnknownURLReturnsEmpty(t *testing.T) {
	c := New(rateLimitCategory(3, model.ConstantBackoff()))
	state := c.GetRetryState("https://never-seen.example.com")
	assert.Equal(t, 0, state.TotalRetries)
	assert.Empty(t, state.Counts)
}

func TestShouldRetryRequest_CategoryInsertionOrderIsStable(t *testing.T) {
	// Two categories both match the same status code; the first-inserted
	// category must win every time, regardless of Go's randomised map
	// iteration order.
	categories := []model.CategoryEntry{
		{
			Category: model.CategoryBotDetection,
			Config: model.CategoryConfig{
				MaxRetries:   5,
				InitialDelay: time.Millisecond,
				MaxDelay:     time.Second,
				Conditions: []model.RetryCondition{
					model.RequestRetryCondition(model.StatusCodeCondition(403)),
				},
			},
		},
		{
			Category: model.CategoryAuthentication,
			Config: model.CategoryConfig{
				MaxRetries:   5,
				InitialDelay: time.Millisecond,
				MaxDelay:     time.Second,
				Conditions: []model.RetryCondition{
					model.RequestRetryCondition(model.StatusCodeCondition(403)),
				},
			},
		},
	}

	for i := 0; i < 20; i++ {
		c := New(categories)
		cat, _, ok := c.ShouldRetryRequest("https://example.com/order", 403, "")
		require.True(t, ok)
		assert.Equal(t, model.CategoryBotDetection, cat)
	}
}
