package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelcrawl/kestrel/internal/model"
	"github.com/kestrelcrawl/kestrel/internal/retry"
	"github.com/kestrelcrawl/kestrel/internal/stats"
)

// fakeTransport returns a scripted sequence of statuses, one per FetchSingle
// call, so Fetch's retry loop can be exercised without a network round trip.
type fakeTransport struct {
	statuses []uint16
	calls    int
	stats    *stats.Tracker
}

func (f *fakeTransport) FetchSingle(ctx context.Context, req model.Request) (*model.Response, error) {
	status := f.statuses[f.calls]
	if f.calls < len(f.statuses)-1 {
		f.calls++
	}
	return &model.Response{
		URL:         req.URL,
		Status:      status,
		DecodedBody: "body",
		Timestamp:   time.Now(),
	}, nil
}

func (f *fakeTransport) BoxClone() Transport       { return f }
func (f *fakeTransport) Stats() *stats.Tracker     { return f.stats }
func (f *fakeTransport) SetStats(s *stats.Tracker) { f.stats = s }

func rateLimitController(maxRetries int) *retry.Controller {
	return retry.New([]model.CategoryEntry{
		{
			Category: model.CategoryRateLimit,
			Config: model.CategoryConfig{
				MaxRetries:    maxRetries,
				InitialDelay:  time.Millisecond,
				MaxDelay:      10 * time.Millisecond,
				BackoffPolicy: model.ConstantBackoff(),
				Conditions: []model.RetryCondition{
					model.RequestRetryCondition(model.StatusCodeCondition(429)),
				},
			},
		},
	})
}

func TestFetch_RetriesUntilSuccess(t *testing.T) {
	ft := &fakeTransport{statuses: []uint16{429, 429, 200}, stats: stats.New()}
	ctrl := rateLimitController(5)

	resp, err := Fetch(context.Background(), ft, model.NewRequest("https://example.com"), ctrl)
	require.NoError(t, err)
	assert.Equal(t, uint16(200), resp.Status)
	assert.Equal(t, 2, resp.RetryCount)
	assert.Equal(t, 2, resp.RetryHistory[model.CategoryRateLimit])
}

func TestFetch_MaxRetriesExhaustedReturnsMaxRetriesReachedError(t *testing.T) {
	ft := &fakeTransport{statuses: []uint16{429, 429, 429}, stats: stats.New()}
	ctrl := rateLimitController(2)

	_, err := Fetch(context.Background(), ft, model.NewRequest("https://example.com"), ctrl)
	require.Error(t, err)
	var maxErr *model.MaxRetriesReachedError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, model.CategoryRateLimit, maxErr.Category)
}

func TestFetch_NonMatchingFailureIsReturnedAsFinal(t *testing.T) {
	// A 500 status with no configured retry condition for it must not be
	// mistaken for an exhausted category — it simply isn't retried.
	ft := &fakeTransport{statuses: []uint16{500}, stats: stats.New()}
	ctrl := rateLimitController(2)

	resp, err := Fetch(context.Background(), ft, model.NewRequest("https://example.com"), ctrl)
	require.NoError(t, err)
	assert.Equal(t, uint16(500), resp.Status)
	assert.Equal(t, 0, resp.RetryCount)
}

func TestFetch_RecordsStats(t *testing.T) {
	// Fetch records each retry it schedules. The request itself is recorded
	// by the engine once parsing has run, so Fetch leaves TotalRequests alone.
	ft := &fakeTransport{statuses: []uint16{429, 200}, stats: stats.New()}
	ctrl := rateLimitController(3)

	_, err := Fetch(context.Background(), ft, model.NewRequest("https://example.com"), ctrl)
	require.NoError(t, err)

	snap := ft.stats.Get()
	assert.Equal(t, 1, snap.RetryCount)
	assert.Equal(t, 0, snap.TotalRequests)
}

func TestFetch_ContextCancellationDuringBackoff(t *testing.T) {
	ft := &fakeTransport{statuses: []uint16{429, 429, 429}, stats: stats.New()}
	ctrl := retry.New([]model.CategoryEntry{
		{
			Category: model.CategoryRateLimit,
			Config: model.CategoryConfig{
				MaxRetries:    10,
				InitialDelay:  time.Hour,
				MaxDelay:      time.Hour,
				BackoffPolicy: model.ConstantBackoff(),
				Conditions: []model.RetryCondition{
					model.RequestRetryCondition(model.StatusCodeCondition(429)),
				},
			},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Fetch(ctx, ft, model.NewRequest("https://example.com"), ctrl)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
